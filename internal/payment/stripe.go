package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"roadbook/internal/config"
	"roadbook/internal/domain"
	"roadbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway creates hosted checkout sessions and verifies webhook deliveries.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	currency      string
	logger        *zerolog.Logger
}

func NewStripeGateway(cfg config.StripeConfig, logger *zerolog.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	backends := stripe.NewBackends(httpClient)
	if cfg.BaseURL != "" {
		backends.API = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BaseURL),
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
	}

	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		currency:      strings.ToLower(cfg.Currency),
		logger:        logger,
	}, nil
}

// CreateCheckoutSession requests a hosted payment page for req.Quantity units of req.UnitAmount.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req models.SessionRequest) (*models.CheckoutSession, error) {
	if req.UnitAmount <= 0 || req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %d x %d", domain.ErrInvalidRequest, req.UnitAmount, req.Quantity)
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = g.currency
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(req.UnitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(req.Quantity),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
		// payment_intent.* events carry the same references
		params.PaymentIntentData.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			g.logger.Error().
				Str("type", string(stripeErr.Type)).
				Str("code", string(stripeErr.Code)).
				Int("status", stripeErr.HTTPStatusCode).
				Str("booking_id", req.Metadata[models.MetaBookingID]).
				Msg("Stripe rejected checkout session")
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentProvider, stripeErr.Msg)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentProvider, err)
	}

	g.logger.Debug().
		Str("session_id", sess.ID).
		Int64("amount", req.AmountTotal()).
		Msg("Stripe checkout session created")

	return &models.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and reduces the event to a PaymentEvent.
// Event types the processor does not know are returned with their type and no payload.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature", domain.ErrSignatureVerificationFailed)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureVerificationFailed, err)
	}

	out := &models.PaymentEvent{
		ID:         ev.ID,
		Type:       string(ev.Type),
		ReceivedAt: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "checkout.session."):
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", domain.ErrInvalidRequest, err)
		}
		out.SessionID = sess.ID
		out.AmountTotal = sess.AmountTotal
		out.Metadata = sess.Metadata
		if sess.PaymentIntent != nil {
			out.PaymentIntentID = sess.PaymentIntent.ID
		}
	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: decode payment intent: %v", domain.ErrInvalidRequest, err)
		}
		out.PaymentIntentID = pi.ID
		out.AmountTotal = pi.Amount
		out.Metadata = pi.Metadata
	}

	return out, nil
}

// DisabledGateway answers every call with ErrPaymentProvider. Used when Stripe is off.
type DisabledGateway struct{}

func (DisabledGateway) CreateCheckoutSession(_ context.Context, _ models.SessionRequest) (*models.CheckoutSession, error) {
	return nil, fmt.Errorf("%w: payments are disabled", domain.ErrPaymentProvider)
}

func (DisabledGateway) ParseWebhook(_ []byte, _ string) (*models.PaymentEvent, error) {
	return nil, fmt.Errorf("%w: payments are disabled", domain.ErrSignatureVerificationFailed)
}
