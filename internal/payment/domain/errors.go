package domain

import "errors"

var (
	ErrNotFound                           = errors.New("payment_not_found")
	ErrInvalidID                          = errors.New("invalid_payment_id")
	ErrInvalidTransition                  = errors.New("invalid_status_transition")
	ErrStatusConflict                     = errors.New("payment_status_conflict")
	ErrAlreadyPaid                        = errors.New("payment_already_paid")
	ErrDuplicatePeriodPayment             = errors.New("duplicate_period_payment")
	ErrNoActiveLease                      = errors.New("no_active_lease")
	ErrTransactionConflict                = errors.New("transaction_already_applied")
	ErrReceiptUnavailable                 = errors.New("receipt_number_unavailable")
	ErrReconciliationMismatch             = errors.New("reconciliation_mismatch")
	ErrWebhookSignatureVerificationFailed = errors.New("webhook_signature_verification_failed")
	ErrInvalidPayload                     = errors.New("invalid_payload")
	ErrInvalidFilter                      = errors.New("invalid_filter")
)

// ValidationError carries the violated rule as its message.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return e.Rule
}

func NewValidationError(field, rule string) *ValidationError {
	return &ValidationError{Field: field, Rule: rule}
}

func AsValidationError(err error) *ValidationError {
	var vErr *ValidationError
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
