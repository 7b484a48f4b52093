package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Account, error)
	List(ctx context.Context, req ListRequest) ([]Account, error)
	Get(ctx context.Context, id string) (*Account, error)
	RotateCredentials(ctx context.Context, id string, req RotateRequest) (*Account, error)
	SetActive(ctx context.Context, id string, active bool) (*Account, error)
	RegisterWebhook(ctx context.Context, id string) (*Account, error)
	SetDefault(ctx context.Context, id string) (*Account, error)
	AssignProperties(ctx context.Context, id string, propertyIDs []string) (*Account, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*Account, error)

	// ResolveForProperty picks the property's own account, then a global
	// account, then the default account.
	ResolveForProperty(ctx context.Context, propertyID snowflake.ID) (*Account, error)
	// WebhookCandidates lists the accounts whose webhook secret may have
	// signed an inbound event, narrowed to the hinted account when it has one.
	WebhookCandidates(ctx context.Context, hint string) ([]Account, error)
	// Gateway builds a processor client from freshly decrypted credentials.
	Gateway(ctx context.Context, account Account) (gateway.Gateway, error)
}

type CreateRequest struct {
	Name              string   `json:"name"`
	Provider          string   `json:"provider"`
	SecretKey         string   `json:"secret_key"`
	ExternalAccountID string   `json:"external_account_id"`
	IsGlobalAccount   bool     `json:"is_global_account"`
	IsDefaultAccount  bool     `json:"is_default_account"`
	PropertyIDs       []string `json:"property_ids"`
}

type RotateRequest struct {
	SecretKey string `json:"secret_key"`
}

type ListRequest struct {
	IncludeDeleted bool
}

var (
	ErrNotFound                = errors.New("processor_account_not_found")
	ErrNoProcessorAccountFound = errors.New("no_processor_account_found")
	ErrPropertyAlreadyAssigned = errors.New("property_already_assigned")
	ErrDuplicateName           = errors.New("duplicate_account_name")
	ErrDuplicateExternalID     = errors.New("duplicate_external_account_id")
	ErrDefaultConflict         = errors.New("default_account_conflict")
	ErrInvalidID               = errors.New("invalid_processor_account_id")
	ErrInvalidName             = errors.New("invalid_name")
	ErrInvalidProvider         = errors.New("invalid_provider")
	ErrInvalidSecret           = errors.New("invalid_secret_key")
	ErrInvalidProperty         = errors.New("invalid_property")
	ErrEncryptionKeyMissing    = errors.New("encryption_key_missing")
	ErrInvalidCiphertext       = errors.New("invalid_ciphertext")
)
