package stripe

import (
	"github.com/stripe/stripe-go/v82/webhook"
)

// SignPayload builds a Stripe-Signature header for payload using secret.
func SignPayload(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	return signed.Header
}
