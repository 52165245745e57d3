package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/service"
	"github.com/Dhoini/Membership-service/pkg/logger"
)

const apiBase = "https://api.telegram.org"

// Config настройки Telegram-бота
type Config struct {
	BotToken    string
	GroupChatID string
	AppURL      string
}

// Client отправляет сообщения пользователям и управляет членством
// в закрытой группе через Bot API
type Client struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger
}

// NewClient создает новый клиент Telegram Bot API
func NewClient(cfg Config, log *logger.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// call выполняет метод Bot API
func (c *Client) call(ctx context.Context, method string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", apiBase, c.cfg.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("telegram: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewExternalServiceError("telegram", method, "request failed", 0, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return domain.NewExternalServiceError("telegram", method, "failed to parse response", resp.StatusCode, err)
	}
	if !apiResp.OK {
		return domain.NewExternalServiceError("telegram", method, apiResp.Description, resp.StatusCode, nil)
	}

	return nil
}

// SendMessage отправляет текстовое сообщение пользователю
func (c *Client) SendMessage(ctx context.Context, userID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":    userID,
		"text":       text,
		"parse_mode": "HTML",
	})
}

// Grant открывает пользователю вход в группу: снимает бан, если он был
func (c *Client) Grant(ctx context.Context, userID int64) error {
	err := c.call(ctx, "unbanChatMember", map[string]interface{}{
		"chat_id":        c.cfg.GroupChatID,
		"user_id":        userID,
		"only_if_banned": true,
	})
	if err != nil {
		c.log.Errorw("Failed to lift group ban", "error", err, "userID", userID)
		return err
	}

	c.log.Infow("Group access opened", "userID", userID)
	return nil
}

// Revoke удаляет пользователя из группы. Бан сразу снимается,
// чтобы после новой оплаты пользователь мог вернуться по инвайту.
func (c *Client) Revoke(ctx context.Context, userID int64) error {
	if err := c.call(ctx, "banChatMember", map[string]interface{}{
		"chat_id": c.cfg.GroupChatID,
		"user_id": userID,
	}); err != nil {
		c.log.Errorw("Failed to remove user from group", "error", err, "userID", userID)
		return err
	}

	if err := c.call(ctx, "unbanChatMember", map[string]interface{}{
		"chat_id":        c.cfg.GroupChatID,
		"user_id":        userID,
		"only_if_banned": true,
	}); err != nil {
		c.log.Warnw("Failed to lift ban after removal", "error", err, "userID", userID)
	}

	c.log.Infow("Group access closed", "userID", userID)
	return nil
}

// Notify отправляет пользователю уведомление о смене состояния подписки.
// К сообщениям, зовущим к оплате, прикрепляется кнопка с приложением.
func (c *Client) Notify(ctx context.Context, n service.Notification) error {
	text := c.messageFor(n)
	if text == "" {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    n.UserID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if label := c.buttonFor(n.Kind); label != "" && c.cfg.AppURL != "" {
		payload["reply_markup"] = map[string]interface{}{
			"inline_keyboard": [][]map[string]string{
				{{"text": label, "url": c.cfg.AppURL}},
			},
		}
	}

	return c.call(ctx, "sendMessage", payload)
}

// messageFor возвращает текст уведомления
func (c *Client) messageFor(n service.Notification) string {
	switch n.Kind {
	case service.NotificationActivated:
		return "Оплата прошла! Подписка активна, доступ к группе открыт."
	case service.NotificationRenewed:
		return "Подписка продлена. Спасибо, что остаетесь с нами!"
	case service.NotificationPaymentFailed:
		return "Не удалось списать оплату за подписку. Проверьте способ оплаты, иначе доступ закроется в конце оплаченного периода."
	case service.NotificationCancelled:
		return "Подписка отменена. Доступ к группе закрыт. Вернуться можно в любой момент."
	case service.NotificationExpiringSoon:
		var until string
		if n.Subscription != nil && n.Subscription.ExpiresAt != nil {
			until = " " + n.Subscription.ExpiresAt.Format("02.01.2006")
		}
		return "Подписка заканчивается" + until + ". Продлите ее, чтобы не потерять доступ."
	case service.NotificationExpired:
		return "Оплаченный период закончился, доступ к группе закрыт. Будем рады видеть вас снова!"
	case service.NotificationNudge:
		return "Вы начали оформление подписки, но не завершили оплату."
	default:
		return ""
	}
}

// buttonFor возвращает подпись кнопки для сообщений, зовущих к оплате
func (c *Client) buttonFor(kind service.NotificationKind) string {
	switch kind {
	case service.NotificationNudge:
		return "Завершить оплату"
	case service.NotificationExpiringSoon:
		return "Продлить подписку"
	case service.NotificationExpired, service.NotificationCancelled:
		return "Оформить подписку"
	default:
		return ""
	}
}
