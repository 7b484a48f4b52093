package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"
	WebhookStatusRegistered WebhookStatus = "registered"
	WebhookStatusFailed     WebhookStatus = "failed"
)

// Account is one set of processor credentials. Secrets are stored sealed and
// never serialized.
type Account struct {
	ID                      snowflake.ID   `json:"id"`
	Name                    string         `json:"name"`
	Slug                    string         `json:"slug"`
	Provider                string         `json:"provider"`
	SecretCiphertext        string         `json:"-"`
	WebhookSecretCiphertext *string        `json:"-"`
	ExternalAccountID       *string        `json:"external_account_id,omitempty"`
	WebhookEndpointID       *string        `json:"webhook_endpoint_id,omitempty"`
	WebhookURL              *string        `json:"webhook_url,omitempty"`
	WebhookStatus           WebhookStatus  `json:"webhook_status"`
	IsActive                bool           `json:"is_active"`
	IsVerified              bool           `json:"is_verified"`
	IsGlobalAccount         bool           `json:"is_global_account"`
	IsDefaultAccount        bool           `json:"is_default_account"`
	VerifiedAt              *time.Time     `json:"verified_at,omitempty"`
	DeletedAt               *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
	PropertyIDs             []snowflake.ID `json:"property_ids" gorm:"-"`
}

func (a Account) HasWebhookSecret() bool {
	return a.WebhookSecretCiphertext != nil && strings.TrimSpace(*a.WebhookSecretCiphertext) != ""
}

func (a Account) HasSecret() bool {
	return strings.TrimSpace(a.SecretCiphertext) != ""
}

// Usable reports whether the account may be routed new payments.
func (a Account) Usable() bool {
	return a.DeletedAt == nil && a.IsActive && a.IsVerified
}

type WebhookUpdate struct {
	EndpointID       *string
	URL              *string
	SecretCiphertext *string
	Status           WebhookStatus
}
