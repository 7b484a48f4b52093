package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

const receiptPrefix = "RCP-"

// NewReceiptNumber returns a time-ordered receipt number with a random suffix.
func NewReceiptNumber(now time.Time) string {
	return receiptPrefix + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// Checkout metadata keys. Every artifact carries enough of the charge to
// rebuild it without reading the ledger.
const (
	MetaPaymentRecordID = "payment_record_id"
	MetaReceiptNumber   = "receipt_number"
	MetaTenantID        = "tenant_id"
	MetaTenantName      = "tenant_name"
	MetaTenantEmail     = "tenant_email"
	MetaPropertyID      = "property_id"
	MetaPropertyName    = "property_name"
	MetaPropertyAddress = "property_address"
	MetaSpotID          = "spot_id"
	MetaLeaseID         = "lease_id"
	MetaLeaseStart      = "lease_start"
	MetaLeaseEnd        = "lease_end"
	MetaLeaseRent       = "lease_rent_amount"
	MetaPaymentType     = "payment_type"
	MetaDueDate         = "due_date"
	MetaAmount          = "amount"
	MetaLateFeeAmount   = "late_fee_amount"
	MetaTotalAmount     = "total_amount"
	MetaCurrency        = "currency"
	MetaAccountID       = "processor_account_id"
	MetaAccountName     = "processor_account_name"
)

// MetadataDateLayout formats dates carried in checkout metadata.
const MetadataDateLayout = "2006-01-02"
