// Package link issues processor checkout artifacts for payment records.
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/lock"
	"github.com/smallbiznis/rentwise/internal/observability/metrics"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	processordomain "github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	rentduedomain "github.com/smallbiznis/rentwise/internal/rentdue/domain"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const issueLockTTL = 30 * time.Second

var ErrNotCollectible = errors.New("payment_not_collectible")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	TenancyRepo tenancydomain.Repository
	Payments    domain.Service
	Accounts    processordomain.Service
	RentDue     rentduedomain.Service
	Policy      *config.RentPolicyHolder
	Cfg         config.Config
	Clock       clock.Clock
	Locker      *lock.Locker     `optional:"true"`
	Metrics     *metrics.Metrics `optional:"true"`
}

type Issuer struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	tenancyRepo tenancydomain.Repository
	payments    domain.Service
	accounts    processordomain.Service
	rentDue     rentduedomain.Service
	policy      *config.RentPolicyHolder
	clock       clock.Clock
	locker      *lock.Locker
	metrics     *metrics.Metrics
	baseURL     string
}

func New(p Params) *Issuer {
	return &Issuer{
		db:          p.DB,
		log:         p.Log.Named("payment.link"),
		genID:       p.GenID,
		tenancyRepo: p.TenancyRepo,
		payments:    p.Payments,
		accounts:    p.Accounts,
		rentDue:     p.RentDue,
		policy:      p.Policy,
		clock:       p.Clock,
		locker:      p.Locker,
		metrics:     p.Metrics,
		baseURL:     p.Cfg.PublicBaseURL,
	}
}

type Request struct {
	TenantID      snowflake.ID       `json:"-"`
	PropertyID    snowflake.ID       `json:"-"`
	SpotID        *snowflake.ID      `json:"-"`
	PaymentType   domain.PaymentType `json:"payment_type"`
	Amount        decimal.Decimal    `json:"amount"`
	LateFeeAmount decimal.Decimal    `json:"late_fee_amount"`
	DueDate       time.Time          `json:"due_date"`
	Description   string             `json:"description"`
}

type Link struct {
	Payment     *domain.PaymentRecord `json:"payment"`
	CheckoutID  string                `json:"checkout_id"`
	CheckoutURL string                `json:"checkout_url"`
	Quote       *rentduedomain.Quote  `json:"quote,omitempty"`
}

// subject is everything a checkout describes, resolved once per issuance.
type subject struct {
	tenant   *tenancydomain.Tenant
	property *tenancydomain.Property
	lease    *tenancydomain.Lease
	account  *processordomain.Account
	gateway  gateway.Gateway
}

// IssueRent quotes the tenant's next rent charge and issues a link for it.
func (i *Issuer) IssueRent(ctx context.Context, tenantID snowflake.ID) (*Link, error) {
	quote, err := i.rentDue.Quote(ctx, tenantID, time.Time{})
	if err != nil {
		return nil, err
	}
	link, err := i.Issue(ctx, Request{
		TenantID:    tenantID,
		PropertyID:  quote.PropertyID,
		SpotID:      quote.SpotID,
		PaymentType: domain.PaymentTypeRent,
		Amount:      quote.Amount,
		DueDate:     quote.DueDate,
		Description: quote.Description,
	})
	if err != nil {
		return nil, err
	}
	link.Quote = &quote
	return link, nil
}

// Issue creates the processor checkout first and the PENDING record second.
// If the write fails after the checkout exists, the webhook fallback lookup
// reconciles the payment from the checkout metadata.
func (i *Issuer) Issue(ctx context.Context, req Request) (*Link, error) {
	if req.PaymentType == "" {
		req.PaymentType = domain.PaymentTypeRent
	}

	subj, err := i.resolve(ctx, req.TenantID, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if req.PropertyID == 0 {
		req.PropertyID = subj.property.ID
	}
	if req.SpotID == nil {
		req.SpotID = subj.lease.SpotID
	}

	input, err := i.payments.Validate(ctx, domain.CreateInput{
		TenantID:           req.TenantID,
		PropertyID:         req.PropertyID,
		SpotID:             req.SpotID,
		LeaseID:            &subj.lease.ID,
		ProcessorAccountID: &subj.account.ID,
		PaymentType:        req.PaymentType,
		Amount:             req.Amount,
		LateFeeAmount:      req.LateFeeAmount,
		Currency:           i.policy.Get().Currency,
		DueDate:            req.DueDate,
		Description:        req.Description,
	})
	if err != nil {
		return nil, err
	}

	var link *Link
	issue := func(ctx context.Context) error {
		if input.PaymentType == domain.PaymentTypeRent {
			if err := i.rentDue.EnsurePeriodFree(ctx, input.TenantID, input.DueDate); err != nil {
				return err
			}
		}

		now := i.clock.Now().UTC()
		input.ID = i.genID.Generate()
		input.ReceiptNumber = domain.NewReceiptNumber(now)
		metadata := buildMetadata(input, subj)

		checkout, err := i.createCheckout(ctx, subj, input, metadata, input.ReceiptNumber)
		if err != nil {
			return err
		}

		input.ExternalIntentID = checkout.ID
		input.CheckoutURL = checkout.URL
		input.Metadata = lo.MapValues(metadata, func(value string, _ string) any { return value })
		record, err := i.payments.CreatePending(ctx, input)
		if err != nil {
			i.log.Error("checkout created without a local record",
				zap.String("checkout_id", checkout.ID),
				zap.String("receipt_number", input.ReceiptNumber),
				zap.Error(err),
			)
			return err
		}

		link = &Link{Payment: record, CheckoutID: checkout.ID, CheckoutURL: checkout.URL}
		return nil
	}

	if err := i.locker.Do(ctx, "payment-issue:"+req.TenantID.String(), issueLockTTL, issue); err != nil {
		return nil, err
	}
	i.log.Info("payment link issued",
		zap.String("receipt_number", link.Payment.ReceiptNumber),
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("processor_account_id", subj.account.ID.String()),
	)
	return link, nil
}

// Reissue attaches a fresh checkout to a record that is still collectible.
// The receipt number and amounts are unchanged.
func (i *Issuer) Reissue(ctx context.Context, receiptNumber string) (*Link, error) {
	record, err := i.payments.GetByReceipt(ctx, receiptNumber)
	if err != nil {
		return nil, err
	}
	if !record.Status.Collectible() {
		return nil, ErrNotCollectible
	}

	subj, err := i.resolve(ctx, record.TenantID, record.PropertyID)
	if err != nil {
		return nil, err
	}

	input := domain.CreateInput{
		ID:                 record.ID,
		ReceiptNumber:      record.ReceiptNumber,
		TenantID:           record.TenantID,
		PropertyID:         record.PropertyID,
		SpotID:             record.SpotID,
		LeaseID:            record.LeaseID,
		ProcessorAccountID: &subj.account.ID,
		PaymentType:        record.PaymentType,
		Amount:             record.Amount,
		LateFeeAmount:      record.LateFeeAmount,
		Currency:           record.Currency,
		DueDate:            record.DueDate,
		Description:        record.Description,
	}
	metadata := buildMetadata(input, subj)
	key := fmt.Sprintf("%s-%d", record.ReceiptNumber, i.clock.Now().Unix())

	checkout, err := i.createCheckout(ctx, subj, input, metadata, key)
	if err != nil {
		return nil, err
	}
	updated, err := i.payments.AttachCheckout(ctx, record.ID, checkout.ID, checkout.URL)
	if err != nil {
		return nil, err
	}
	return &Link{Payment: updated, CheckoutID: checkout.ID, CheckoutURL: checkout.URL}, nil
}

func (i *Issuer) resolve(ctx context.Context, tenantID, propertyID snowflake.ID) (*subject, error) {
	tenant, err := i.tenancyRepo.FindTenant(ctx, i.db, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenancydomain.ErrTenantNotFound
	}

	lease, err := i.tenancyRepo.FindActiveLeaseForTenant(ctx, i.db, tenant.ID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, domain.ErrNoActiveLease
	}
	if propertyID == 0 {
		propertyID = lease.PropertyID
	}

	property, err := i.tenancyRepo.FindProperty(ctx, i.db, propertyID)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, tenancydomain.ErrPropertyNotFound
	}

	account, err := i.accounts.ResolveForProperty(ctx, property.ID)
	if err != nil {
		return nil, err
	}
	if !account.HasSecret() {
		return nil, gateway.ErrMissingCredential
	}
	gw, err := i.accounts.Gateway(ctx, *account)
	if err != nil {
		return nil, err
	}

	return &subject{tenant: tenant, property: property, lease: lease, account: account, gateway: gw}, nil
}

func (i *Issuer) createCheckout(ctx context.Context, subj *subject, input domain.CreateInput, metadata map[string]string, idempotencyKey string) (gateway.Checkout, error) {
	policy := i.policy.Get()
	total := input.Amount.Add(input.LateFeeAmount)

	customerID := ""
	if subj.tenant.ProcessorCustomerID != nil {
		customerID = *subj.tenant.ProcessorCustomerID
	}

	description := input.Description
	if description == "" {
		description = fmt.Sprintf("%s payment due %s", input.PaymentType, input.DueDate.Format(domain.MetadataDateLayout))
	}

	started := time.Now()
	checkout, err := subj.gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		Amount:         total,
		Currency:       input.Currency,
		Name:           fmt.Sprintf("%s - %s", subj.property.Name, input.PaymentType),
		Description:    description,
		SuccessURL:     policy.SuccessURL(i.baseURL, input.ReceiptNumber),
		CancelURL:      policy.CancelURL(i.baseURL, input.ReceiptNumber),
		CustomerID:     customerID,
		Metadata:       metadata,
		IdempotencyKey: idempotencyKey,
	})
	i.metrics.ObserveProcessorCall(ctx, "checkout.create", time.Since(started))
	if err != nil {
		i.metrics.RecordLinkIssued(ctx, subj.account.Provider, "error")
		i.log.Warn("checkout creation failed",
			zap.String("processor_account_id", subj.account.ID.String()),
			zap.String("receipt_number", input.ReceiptNumber),
			zap.Error(err),
		)
		return gateway.Checkout{}, err
	}
	i.metrics.RecordLinkIssued(ctx, subj.account.Provider, "created")
	return checkout, nil
}

func buildMetadata(input domain.CreateInput, subj *subject) map[string]string {
	meta := map[string]string{
		domain.MetaPaymentRecordID: input.ID.String(),
		domain.MetaReceiptNumber:   input.ReceiptNumber,
		domain.MetaTenantID:        subj.tenant.ID.String(),
		domain.MetaTenantName:      subj.tenant.Name,
		domain.MetaTenantEmail:     subj.tenant.Email,
		domain.MetaPropertyID:      subj.property.ID.String(),
		domain.MetaPropertyName:    subj.property.Name,
		domain.MetaPropertyAddress: subj.property.Address,
		domain.MetaLeaseID:         subj.lease.ID.String(),
		domain.MetaLeaseStart:      subj.lease.LeaseStart.UTC().Format(domain.MetadataDateLayout),
		domain.MetaLeaseRent:       subj.lease.RentAmount.StringFixed(2),
		domain.MetaPaymentType:     string(input.PaymentType),
		domain.MetaDueDate:         input.DueDate.UTC().Format(domain.MetadataDateLayout),
		domain.MetaAmount:          input.Amount.StringFixed(2),
		domain.MetaLateFeeAmount:   input.LateFeeAmount.StringFixed(2),
		domain.MetaTotalAmount:     input.Amount.Add(input.LateFeeAmount).StringFixed(2),
		domain.MetaCurrency:        input.Currency,
		domain.MetaAccountID:       subj.account.ID.String(),
		domain.MetaAccountName:     subj.account.Name,
	}
	if subj.lease.LeaseEnd != nil {
		meta[domain.MetaLeaseEnd] = subj.lease.LeaseEnd.UTC().Format(domain.MetadataDateLayout)
	}
	if input.SpotID != nil {
		meta[domain.MetaSpotID] = input.SpotID.String()
	}
	return meta
}
