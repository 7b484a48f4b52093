package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/rentwise/internal/observability/context"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/webhook"
)

const (
	headerSignature        = "Stripe-Signature"
	headerProcessorAccount = "X-Processor-Account"
	maxWebhookBody         = 1 << 20
)

// HandleWebhook acknowledges every verified delivery, including ignored and
// unmatched events, so the processor stops retrying. Only unreadable or
// unverifiable bodies are rejected.
func (s *Server) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, newValidationError("body", "invalid_payload", "request body could not be read"))
		return
	}

	hint := strings.TrimSpace(c.Param("account_id"))
	if hint == "" {
		hint = strings.TrimSpace(c.Query("account"))
	}
	if hint == "" {
		hint = strings.TrimSpace(c.GetHeader(headerProcessorAccount))
	}

	result, err := s.reconciler.Handle(c.Request.Context(), webhook.Delivery{
		Provider:    c.Param("provider"),
		Payload:     payload,
		Signature:   c.GetHeader(headerSignature),
		AccountHint: hint,
	})
	switch {
	case errors.Is(err, paymentdomain.ErrWebhookSignatureVerificationFailed):
		AbortWithError(c, newValidationError("signature", "invalid_signature", "webhook signature verification failed"))
		return
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		AbortWithError(c, newValidationError("body", "invalid_payload", "webhook payload is not a valid event"))
		return
	case err != nil:
		AbortWithError(c, err)
		return
	}

	// tags the request log line
	c.Request = c.Request.WithContext(obscontext.WithEventID(c.Request.Context(), result.EventID))
	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"outcome":  result.Outcome,
	})
}
