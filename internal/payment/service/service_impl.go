package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/observability/metrics"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"github.com/smallbiznis/rentwise/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxReceiptAttempts = 3

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	TenancyRepo tenancydomain.Repository
	Policy      *config.RentPolicyHolder
	Clock       clock.Clock
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	tenancyRepo tenancydomain.Repository
	policy      *config.RentPolicyHolder
	clock       clock.Clock
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		tenancyRepo: p.TenancyRepo,
		policy:      p.Policy,
		clock:       p.Clock,
		metrics:     p.Metrics,
	}
}

func (s *Service) CreatePending(ctx context.Context, input domain.CreateInput) (*domain.PaymentRecord, error) {
	if input.PaymentType == "" {
		input.PaymentType = domain.PaymentTypeRent
	}
	if err := s.validate(ctx, &input); err != nil {
		return nil, err
	}

	record := s.newRecord(input, domain.PaymentStatusPending)
	if err := s.insert(ctx, record, input.ReceiptNumber == ""); err != nil {
		return nil, err
	}

	s.log.Info("payment record created",
		zap.String("receipt_number", record.ReceiptNumber),
		zap.String("tenant_id", record.TenantID.String()),
		zap.String("payment_type", string(record.PaymentType)),
		zap.String("total_amount", record.TotalAmount.StringFixed(2)),
	)
	return s.repo.FindByID(ctx, s.db, record.ID)
}

// Validate applies the creation rules without writing, so callers can reject
// bad input before talking to the processor. The returned input carries the
// resolved lease.
func (s *Service) Validate(ctx context.Context, input domain.CreateInput) (domain.CreateInput, error) {
	if input.PaymentType == "" {
		input.PaymentType = domain.PaymentTypeRent
	}
	if err := s.validate(ctx, &input); err != nil {
		return domain.CreateInput{}, err
	}
	return input, nil
}

func (s *Service) RecordExternalPayment(ctx context.Context, input domain.CreateInput) (*domain.PaymentRecord, error) {
	if input.ExternalTransactionID != "" {
		existing, err := s.repo.FindByExternalTransaction(ctx, s.db, input.ExternalTransactionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	tenant, err := s.tenancyRepo.FindTenant(ctx, s.db, input.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenancydomain.ErrTenantNotFound
	}

	if input.LeaseID == nil {
		lease, err := s.tenancyRepo.FindActiveLeaseForTenant(ctx, s.db, tenant.ID)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			input.LeaseID = &lease.ID
			if input.PropertyID == 0 {
				input.PropertyID = lease.PropertyID
			}
			if input.SpotID == nil {
				input.SpotID = lease.SpotID
			}
		}
	}
	if input.PropertyID == 0 {
		return nil, domain.NewValidationError("property_id", "Property is required")
	}
	if !input.Amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "Payment amount must be greater than zero")
	}
	if input.PaymentType == "" {
		input.PaymentType = domain.PaymentTypeRent
	}

	now := s.clock.Now().UTC()
	if input.PaidDate == nil {
		input.PaidDate = &now
	}
	if input.DueDate.IsZero() {
		input.DueDate = *input.PaidDate
	}

	record := s.newRecord(input, domain.PaymentStatusPaid)
	err = s.insert(ctx, record, input.ReceiptNumber == "")
	if errors.Is(err, domain.ErrTransactionConflict) && input.ExternalTransactionID != "" {
		return s.repo.FindByExternalTransaction(ctx, s.db, input.ExternalTransactionID)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLedgerTransition(ctx, string(domain.PaymentStatusPaid))
	s.log.Warn("payment recorded without a prior pending record",
		zap.String("receipt_number", record.ReceiptNumber),
		zap.String("tenant_id", record.TenantID.String()),
		zap.String("external_transaction_id", input.ExternalTransactionID),
	)
	return s.repo.FindByID(ctx, s.db, record.ID)
}

// validate checks every cross-entity rule and reports the first one violated.
// It fills in the lease and currency when the caller left them empty.
func (s *Service) validate(ctx context.Context, input *domain.CreateInput) error {
	if !input.PaymentType.Valid() {
		return domain.NewValidationError("payment_type", "Payment type is not supported")
	}

	tenant, err := s.tenancyRepo.FindTenant(ctx, s.db, input.TenantID)
	if err != nil {
		return err
	}
	if tenant == nil || !tenant.Active() {
		return domain.NewValidationError("tenant_id", "Tenant must exist and be active")
	}

	property, err := s.tenancyRepo.FindProperty(ctx, s.db, input.PropertyID)
	if err != nil {
		return err
	}
	if property == nil || !property.Active() {
		return domain.NewValidationError("property_id", "Property must exist and be active")
	}

	if input.SpotID != nil {
		spot, err := s.tenancyRepo.FindSpot(ctx, s.db, *input.SpotID)
		if err != nil {
			return err
		}
		if spot == nil || spot.PropertyID != property.ID {
			return domain.NewValidationError("spot_id", "Spot does not belong to property")
		}
	}

	var lease *tenancydomain.Lease
	if input.LeaseID != nil {
		lease, err = s.tenancyRepo.FindLease(ctx, s.db, *input.LeaseID)
	} else {
		lease, err = s.tenancyRepo.FindActiveLeaseForTenant(ctx, s.db, tenant.ID)
	}
	if err != nil {
		return err
	}
	if lease == nil || lease.LeaseStatus != tenancydomain.LeaseStatusActive {
		return domain.NewValidationError("lease_id", "Tenant must have an active lease")
	}
	if lease.TenantID != tenant.ID {
		return domain.NewValidationError("lease_id", "Lease does not belong to tenant")
	}
	input.LeaseID = &lease.ID

	if !input.Amount.IsPositive() {
		return domain.NewValidationError("amount", "Payment amount must be greater than zero")
	}
	if input.PaymentType == domain.PaymentTypeRent && input.Amount.GreaterThan(lease.RentAmount) {
		return domain.NewValidationError("amount", "Rent payment amount cannot exceed lease rent amount")
	}
	if input.LateFeeAmount.IsNegative() {
		return domain.NewValidationError("late_fee_amount", "Late fee amount cannot be negative")
	}

	if input.DueDate.IsZero() {
		return domain.NewValidationError("due_date", "Due date is required")
	}
	if !lease.Covers(input.DueDate) {
		return domain.NewValidationError("due_date", "Due date must fall within the lease term")
	}
	return nil
}

func (s *Service) newRecord(input domain.CreateInput, status domain.PaymentStatus) *domain.PaymentRecord {
	now := s.clock.Now().UTC()

	id := input.ID
	if id == 0 {
		id = s.genID.Generate()
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.policy.Get().Currency
	}
	metadata := datatypes.JSONMap{}
	for key, value := range input.Metadata {
		metadata[key] = value
	}

	var paidDate *time.Time
	if input.PaidDate != nil {
		paid := input.PaidDate.UTC()
		paidDate = &paid
	}

	amount := input.Amount.Round(2)
	lateFee := input.LateFeeAmount.Round(2)

	return &domain.PaymentRecord{
		ID:                    id,
		ReceiptNumber:         strings.TrimSpace(input.ReceiptNumber),
		TenantID:              input.TenantID,
		PropertyID:            input.PropertyID,
		SpotID:                input.SpotID,
		LeaseID:               input.LeaseID,
		ProcessorAccountID:    input.ProcessorAccountID,
		PaymentType:           input.PaymentType,
		Status:                status,
		Amount:                amount,
		LateFeeAmount:         lateFee,
		TotalAmount:           amount.Add(lateFee),
		Currency:              currency,
		DueDate:               input.DueDate.UTC(),
		PaidDate:              paidDate,
		ExternalIntentID:      optional(input.ExternalIntentID),
		ExternalTransactionID: optional(input.ExternalTransactionID),
		CheckoutURL:           optional(input.CheckoutURL),
		Description:           strings.TrimSpace(input.Description),
		Metadata:              metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// insert writes the record, drawing a fresh receipt number on collision when
// the caller did not supply one.
func (s *Service) insert(ctx context.Context, record *domain.PaymentRecord, generateReceipt bool) error {
	for attempt := 0; attempt < maxReceiptAttempts; attempt++ {
		if generateReceipt {
			record.ReceiptNumber = domain.NewReceiptNumber(s.clock.Now())
		}
		err := s.repo.Insert(ctx, s.db, record)
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return err
		}

		name := db.ConstraintName(err)
		switch {
		case strings.Contains(name, "external"):
			return domain.ErrTransactionConflict
		case strings.Contains(name, "receipt") && generateReceipt:
			s.log.Warn("receipt number collision, retrying", zap.Int("attempt", attempt+1))
			continue
		default:
			return domain.ErrReceiptUnavailable
		}
	}
	return domain.ErrReceiptUnavailable
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func positiveOrNil(amount decimal.Decimal) *decimal.Decimal {
	if !amount.IsPositive() {
		return nil
	}
	rounded := amount.Round(2)
	return &rounded
}
