package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound  = errors.New("processor_provider_not_found")
	ErrMissingCredential = errors.New("missing_credential")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrInvalidPayload    = errors.New("invalid_payload")
)

type ErrorKind string

const (
	// ErrorKindAuth means the credential was rejected and an operator must fix it.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindTransient is safe for the caller to retry with backoff.
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindInvalid   ErrorKind = "invalid"
)

// ProcessorError wraps a failed call to the external processor.
type ProcessorError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

func NewProcessorError(kind ErrorKind, op string, err error) *ProcessorError {
	return &ProcessorError{Kind: kind, Op: op, Err: err}
}

// ProcessorErrorKind returns the kind of a wrapped ProcessorError.
func ProcessorErrorKind(err error) (ErrorKind, bool) {
	var pErr *ProcessorError
	if errors.As(err, &pErr) && pErr != nil {
		return pErr.Kind, true
	}
	return "", false
}
