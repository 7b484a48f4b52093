// Package fake is an in-memory processor for tests. Signature verification
// uses the real Stripe scheme so webhook tests exercise the same code path.
package fake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	"github.com/smallbiznis/rentwise/internal/payment/gateway/stripe"
)

type Processor struct {
	mu sync.Mutex

	rejected    map[string]bool
	endpoints   map[string]gateway.WebhookEndpoint
	checkoutErr error
	seq         int

	Checkouts      []gateway.CheckoutRequest
	WebhookCreates int
	WebhookDeletes int
}

func NewProcessor() *Processor {
	return &Processor{
		rejected:  map[string]bool{},
		endpoints: map[string]gateway.WebhookEndpoint{},
	}
}

// RejectKey makes VerifyCredential fail with an auth error for secretKey.
func (p *Processor) RejectKey(secretKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected[secretKey] = true
}

// FailCheckout makes every subsequent CreateCheckout return err.
func (p *Processor) FailCheckout(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkoutErr = err
}

func (p *Processor) CheckoutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Checkouts)
}

func (p *Processor) LastCheckout() gateway.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Checkouts) == 0 {
		return gateway.CheckoutRequest{}
	}
	return p.Checkouts[len(p.Checkouts)-1]
}

// WebhookSecret returns the signing secret of the endpoint registered for url.
func (p *Processor) WebhookSecret(url string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[url].Secret
}

// Event builds a Stripe-shaped event payload and signs it with secret.
func Event(secret, id, eventType string, object map[string]any) (payload []byte, signature string) {
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return payload, stripe.SignPayload(payload, secret)
}

func (p *Processor) next(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

type Factory struct {
	processor *Processor
}

func NewFactory(p *Processor) *Factory {
	return &Factory{processor: p}
}

func (f *Factory) Provider() string {
	return stripe.ProviderName
}

func (f *Factory) New(creds gateway.Credentials) (gateway.Gateway, error) {
	if strings.TrimSpace(creds.SecretKey) == "" {
		return nil, gateway.ErrMissingCredential
	}
	return &Gateway{processor: f.processor, creds: creds}, nil
}

type Gateway struct {
	processor *Processor
	creds     gateway.Credentials
}

func (g *Gateway) VerifyCredential(ctx context.Context) error {
	g.processor.mu.Lock()
	defer g.processor.mu.Unlock()
	if g.processor.rejected[g.creds.SecretKey] {
		return gateway.NewProcessorError(gateway.ErrorKindAuth, "verify_credential", errors.New("invalid api key"))
	}
	return nil
}

func (g *Gateway) EnsureWebhook(ctx context.Context, req gateway.WebhookRequest) (gateway.WebhookEndpoint, error) {
	p := g.processor
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.endpoints[req.URL]; ok {
		if req.HasSecret && existing.ID == req.KnownEndpointID {
			return gateway.WebhookEndpoint{ID: existing.ID, Status: existing.Status, Reused: true}, nil
		}
		delete(p.endpoints, req.URL)
		p.WebhookDeletes++
	}

	endpoint := gateway.WebhookEndpoint{
		ID:     p.next("we"),
		Secret: p.next("whsec"),
		Status: "enabled",
	}
	p.endpoints[req.URL] = endpoint
	p.WebhookCreates++
	return endpoint, nil
}

func (g *Gateway) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (gateway.Checkout, error) {
	p := g.processor
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.checkoutErr != nil {
		return gateway.Checkout{}, p.checkoutErr
	}
	p.Checkouts = append(p.Checkouts, req)
	id := p.next("cs_test")
	return gateway.Checkout{
		ID:  id,
		URL: "https://checkout.test/" + id,
	}, nil
}

func (g *Gateway) ParseEvent(payload []byte, signature string) (gateway.Event, error) {
	return stripe.ParseEvent(payload, signature, g.creds.WebhookSecret)
}
