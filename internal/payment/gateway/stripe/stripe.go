package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	stripego "github.com/stripe/stripe-go/v82"
)

const ProviderName = "stripe"

type Factory struct {
	callTimeout time.Duration
}

func NewFactory(callTimeout time.Duration) *Factory {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Factory{callTimeout: callTimeout}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) New(creds gateway.Credentials) (gateway.Gateway, error) {
	secret := strings.TrimSpace(creds.SecretKey)
	if secret == "" {
		return nil, gateway.ErrMissingCredential
	}
	return &Gateway{
		client:        stripego.NewClient(secret),
		webhookSecret: strings.TrimSpace(creds.WebhookSecret),
		timeout:       f.callTimeout,
	}, nil
}

type Gateway struct {
	client        *stripego.Client
	webhookSecret string
	timeout       time.Duration
}

func (g *Gateway) VerifyCredential(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if _, err := g.client.V1Balance.Retrieve(ctx, &stripego.BalanceRetrieveParams{}); err != nil {
		return classify("verify_credential", err)
	}
	return nil
}

func (g *Gateway) EnsureWebhook(ctx context.Context, req gateway.WebhookRequest) (gateway.WebhookEndpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url := strings.TrimSpace(req.URL)
	if url == "" {
		return gateway.WebhookEndpoint{}, gateway.NewProcessorError(gateway.ErrorKindInvalid, "ensure_webhook", errors.New("webhook url is empty"))
	}

	var existing []*stripego.WebhookEndpoint
	for ep, err := range g.client.V1WebhookEndpoints.List(ctx, &stripego.WebhookEndpointListParams{}) {
		if err != nil {
			return gateway.WebhookEndpoint{}, classify("list_webhooks", err)
		}
		if ep != nil && ep.URL == url {
			existing = append(existing, ep)
		}
	}

	// The signing secret is only returned on create, so an endpoint can be
	// reused only when we already hold its secret.
	var reused *stripego.WebhookEndpoint
	for _, ep := range existing {
		if reused == nil && req.HasSecret && ep.ID == req.KnownEndpointID {
			reused = ep
			continue
		}
		if _, err := g.client.V1WebhookEndpoints.Delete(ctx, ep.ID, &stripego.WebhookEndpointDeleteParams{}); err != nil {
			return gateway.WebhookEndpoint{}, classify("delete_webhook", err)
		}
	}
	if reused != nil {
		return gateway.WebhookEndpoint{ID: reused.ID, Status: reused.Status, Reused: true}, nil
	}

	created, err := g.client.V1WebhookEndpoints.Create(ctx, &stripego.WebhookEndpointCreateParams{
		URL:           stripego.String(url),
		EnabledEvents: stripego.StringSlice(req.Events),
	})
	if err != nil {
		return gateway.WebhookEndpoint{}, classify("create_webhook", err)
	}
	return gateway.WebhookEndpoint{
		ID:     created.ID,
		Secret: created.Secret,
		Status: created.Status,
	}, nil
}

func (g *Gateway) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (gateway.Checkout, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cents := req.Amount.Shift(2).Round(0).IntPart()
	if cents <= 0 {
		return gateway.Checkout{}, gateway.NewProcessorError(gateway.ErrorKindInvalid, "create_checkout", errors.New("amount must be positive"))
	}

	params := &stripego.CheckoutSessionCreateParams{
		Mode:       stripego.String("payment"),
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		Metadata:   req.Metadata,
		LineItems: []*stripego.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripego.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripego.String(strings.ToLower(req.Currency)),
					ProductData: &stripego.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name:        stripego.String(req.Name),
						Description: stripego.String(req.Description),
					},
					UnitAmount: stripego.Int64(cents),
				},
				Quantity: stripego.Int64(1),
			},
		},
		PaymentIntentData: &stripego.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripego.String(req.CustomerID)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripego.String(req.IdempotencyKey)
	}

	session, err := g.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return gateway.Checkout{}, classify("create_checkout", err)
	}

	out := gateway.Checkout{ID: session.ID, URL: session.URL}
	if session.PaymentIntent != nil {
		out.IntentID = session.PaymentIntent.ID
	}
	return out, nil
}

func (g *Gateway) ParseEvent(payload []byte, signature string) (gateway.Event, error) {
	return ParseEvent(payload, signature, g.webhookSecret)
}

// classify maps stripe API failures onto processor error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return gateway.NewProcessorError(gateway.ErrorKindTransient, op, err)
	}

	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) && stripeErr != nil {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusUnauthorized,
			stripeErr.HTTPStatusCode == http.StatusForbidden:
			return gateway.NewProcessorError(gateway.ErrorKindAuth, op, err)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
			stripeErr.HTTPStatusCode == 0:
			return gateway.NewProcessorError(gateway.ErrorKindTransient, op, err)
		default:
			return gateway.NewProcessorError(gateway.ErrorKindInvalid, op, err)
		}
	}
	return gateway.NewProcessorError(gateway.ErrorKindTransient, op, err)
}
