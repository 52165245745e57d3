package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	// Ключи метаданных для привязки объектов Stripe к нашим сущностям
	metadataUserIDKey  = "user_id"
	metadataOrderIDKey = "order_id"
)

// Config настройки интеграции со Stripe
type Config struct {
	APIKey    string
	PriceID   string
	ReturnURL string
	CancelURL string
}

// Client платежный провайдер Stripe.
// Оплата идет через Checkout Session в режиме подписки.
type Client struct {
	client *client.API
	cfg    Config
	log    *logger.Logger
}

// NewClient создает новый экземпляр клиента Stripe
func NewClient(cfg Config, log *logger.Logger) *Client {
	sc := &client.API{}
	sc.Init(cfg.APIKey, nil)
	return &Client{
		client: sc,
		cfg:    cfg,
		log:    log,
	}
}

// Name возвращает имя провайдера
func (c *Client) Name() domain.Provider {
	return domain.ProviderStripe
}

// CreateCheckout создает Checkout Session и возвращает ссылку на оплату.
// orderID уходит в client_reference_id и метаданные подписки, чтобы
// вернуться к нам в вебхуках.
func (c *Client) CreateCheckout(ctx context.Context, userID int64, orderID string) (string, error) {
	meta := map[string]string{
		metadataUserIDKey:  strconv.FormatInt(userID, 10),
		metadataOrderIDKey: orderID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(c.cfg.ReturnURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(orderID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(orderID),
			Metadata:       meta,
		},
	}

	session, err := c.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(c.log, "CreateCheckout", err)
		return "", fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	c.log.Infow("Stripe checkout session created", "sessionID", session.ID, "userID", userID, "orderID", orderID)
	return session.URL, nil
}

// Cancel отменяет подписку на стороне Stripe
func (c *Client) Cancel(ctx context.Context, providerSubscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}

	_, err := c.client.Subscriptions.Cancel(providerSubscriptionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			c.log.Warnw("Attempted to cancel already missing Stripe subscription", "stripeSubscriptionID", providerSubscriptionID)
			return nil
		}
		logStripeError(c.log, "Cancel", err)
		return fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}

	c.log.Infow("Stripe subscription canceled", "stripeSubscriptionID", providerSubscriptionID)
	return nil
}

// logStripeError вспомогательная функция для логирования деталей ошибки Stripe
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
