package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

// Config настройки интеграции с PayPal
type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	PlanID       string
	APIBase      string
	ReturnURL    string
	CancelURL    string
}

// Client платежный провайдер PayPal.
// Работает напрямую с REST API: OAuth-токен, billing-подписки
// и серверная проверка подписи вебхуков.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient создает новый экземпляр клиента PayPal
func NewClient(cfg Config, log *logger.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

// Name возвращает имя провайдера
func (c *Client) Name() domain.Provider {
	return domain.ProviderPayPal
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token возвращает действующий OAuth-токен, при необходимости получая новый.
// Запрос токена повторяется с экспоненциальной задержкой.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	var resp tokenResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.APIBase+"/v1/oauth2/token",
			bytes.NewBufferString("grant_type=client_credentials"))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		httpResp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(httpResp.Body)
			err := fmt.Errorf("paypal: token request failed with status %d: %s", httpResp.StatusCode, body)
			if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		return json.NewDecoder(httpResp.Body).Decode(&resp)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		c.log.Errorw("Failed to obtain PayPal access token", "error", err)
		return "", domain.NewExternalServiceError("paypal", "token", "failed to obtain access token", 0, err)
	}

	c.accessToken = resp.AccessToken
	// Обновляем токен чуть раньше, чем он протухнет
	c.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}

// doJSON выполняет запрос к API с токеном и разбирает JSON-ответ в out
func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("paypal: failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBase+path, body)
	if err != nil {
		return fmt.Errorf("paypal: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewExternalServiceError("paypal", "request", "request failed", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		c.log.Errorw("PayPal API error", "method", method, "path", path, "status", resp.StatusCode, "body", string(respBody))
		return domain.NewExternalServiceError("paypal", "request",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), resp.StatusCode, nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("paypal: failed to decode response: %w", err)
		}
	}
	return nil
}

type createSubscriptionRequest struct {
	PlanID             string             `json:"plan_id"`
	CustomID           string             `json:"custom_id"`
	ApplicationContext applicationContext `json:"application_context"`
}

type applicationContext struct {
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type createSubscriptionResponse struct {
	ID    string `json:"id"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// CreateCheckout создает billing-подписку PayPal и возвращает ссылку на
// подтверждение. В custom_id кладется связка user_id:order_id, она
// возвращается в вебхуках.
func (c *Client) CreateCheckout(ctx context.Context, userID int64, orderID string) (string, error) {
	payload := createSubscriptionRequest{
		PlanID:   c.cfg.PlanID,
		CustomID: EncodeCustomID(userID, orderID),
		ApplicationContext: applicationContext{
			ReturnURL: c.cfg.ReturnURL,
			CancelURL: c.cfg.CancelURL,
		},
	}

	var resp createSubscriptionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/billing/subscriptions", payload, &resp); err != nil {
		return "", err
	}

	for _, link := range resp.Links {
		if link.Rel == "approve" {
			c.log.Infow("PayPal subscription created", "paypalSubscriptionID", resp.ID, "userID", userID, "orderID", orderID)
			return link.Href, nil
		}
	}

	return "", domain.NewExternalServiceError("paypal", "checkout", "no approve link in response", 0, nil)
}

// Cancel отменяет подписку на стороне PayPal
func (c *Client) Cancel(ctx context.Context, providerSubscriptionID string) error {
	payload := map[string]string{"reason": "cancelled by service"}
	path := "/v1/billing/subscriptions/" + providerSubscriptionID + "/cancel"
	if err := c.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
		return err
	}

	c.log.Infow("PayPal subscription canceled", "paypalSubscriptionID", providerSubscriptionID)
	return nil
}

// EncodeCustomID упаковывает ключи привязки в custom_id PayPal
func EncodeCustomID(userID int64, orderID string) string {
	return strconv.FormatInt(userID, 10) + ":" + orderID
}
