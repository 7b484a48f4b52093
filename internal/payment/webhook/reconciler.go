// Package webhook applies verified processor events to the payment ledger.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/lock"
	"github.com/smallbiznis/rentwise/internal/observability/metrics"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	processordomain "github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	eventLockTTL    = time.Minute
	listenerTimeout = 15 * time.Second
)

type Params struct {
	fx.In

	Lifecycle   fx.Lifecycle `optional:"true"`
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	TenancyRepo tenancydomain.Repository
	Payments    domain.Service
	Accounts    processordomain.Service
	Clock       clock.Clock
	Locker      *lock.Locker      `optional:"true"`
	Metrics     *metrics.Metrics  `optional:"true"`
	Listeners   []domain.Listener `group:"payment_listeners"`
}

type Reconciler struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	tenancyRepo tenancydomain.Repository
	payments    domain.Service
	accounts    processordomain.Service
	clock       clock.Clock
	locker      *lock.Locker
	metrics     *metrics.Metrics
	listeners   []domain.Listener
	inflight    sync.WaitGroup
}

func New(p Params) *Reconciler {
	r := &Reconciler{
		db:          p.DB,
		log:         p.Log.Named("payment.webhook"),
		genID:       p.GenID,
		repo:        p.Repo,
		tenancyRepo: p.TenancyRepo,
		payments:    p.Payments,
		accounts:    p.Accounts,
		clock:       p.Clock,
		locker:      p.Locker,
		metrics:     p.Metrics,
		listeners:   lo.Filter(p.Listeners, func(l domain.Listener, _ int) bool { return l != nil }),
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				r.Wait()
				return nil
			},
		})
	}
	return r
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Provider  string
	Payload   []byte
	Signature string
	// AccountHint names the processor account from the callback URL or a
	// header, when the sender supplied one.
	AccountHint string
}

type Result struct {
	EventID   string                `json:"event_id"`
	EventType string                `json:"event_type"`
	Outcome   string                `json:"outcome"`
	AccountID snowflake.ID          `json:"account_id"`
	Record    *domain.PaymentRecord `json:"record,omitempty"`
}

// Handle verifies and applies one delivery. Only a failed verification or an
// unreadable body is reported as a rejection; every verified event, including
// unknown and unmatched ones, is acknowledged.
func (r *Reconciler) Handle(ctx context.Context, d Delivery) (Result, error) {
	account, event, err := r.verify(ctx, d)
	if err != nil {
		return Result{}, err
	}
	r.metrics.RecordPaymentEvent(ctx, account.Provider, event.Type)

	logger := r.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("processor_account_id", account.ID.String()),
	)

	var entry *domain.EventRecord
	if event.ID != "" {
		entry, err = r.logEvent(ctx, account, event, d.Payload)
		if err != nil {
			return Result{}, err
		}
		if entry.ProcessedAt != nil {
			logger.Info("event already processed")
			return Result{EventID: event.ID, EventType: event.Type, Outcome: domain.OutcomeDuplicate, AccountID: account.ID}, nil
		}
	}

	var result Result
	var notification *domain.Notification
	apply := func(ctx context.Context) error {
		var err error
		result, notification, err = r.apply(ctx, logger, account, event)
		return err
	}
	lockKey := fmt.Sprintf("payment-event:%s:%s", account.Provider, event.ID)
	if event.ID == "" {
		err = apply(ctx)
	} else {
		err = r.locker.Do(ctx, lockKey, eventLockTTL, apply)
	}
	if err != nil {
		logger.Error("event processing failed", zap.Error(err))
		return Result{}, err
	}

	if entry != nil {
		if err := r.repo.MarkEventProcessed(ctx, r.db, entry.ID, result.Outcome, r.clock.Now().UTC()); err != nil {
			logger.Warn("failed to mark event processed", zap.Error(err))
		}
	}
	if notification != nil {
		r.notify(ctx, *notification)
	}
	return result, nil
}

// verify finds the account whose webhook secret signed the payload. The
// hinted account is tried alone when it has a secret; otherwise every account
// with a secret is tried in id order.
func (r *Reconciler) verify(ctx context.Context, d Delivery) (*processordomain.Account, gateway.Event, error) {
	if len(d.Payload) == 0 {
		return nil, gateway.Event{}, domain.ErrInvalidPayload
	}

	candidates, err := r.accounts.WebhookCandidates(ctx, d.AccountHint)
	if err != nil {
		return nil, gateway.Event{}, err
	}

	provider := strings.ToLower(strings.TrimSpace(d.Provider))
	for idx := range candidates {
		account := candidates[idx]
		if provider != "" && account.Provider != provider {
			continue
		}
		gw, err := r.accounts.Gateway(ctx, account)
		if err != nil {
			r.log.Warn("skipping account without usable credentials",
				zap.String("processor_account_id", account.ID.String()),
				zap.Error(err),
			)
			continue
		}

		event, err := gw.ParseEvent(d.Payload, d.Signature)
		switch {
		case err == nil:
			return &account, event, nil
		case errors.Is(err, gateway.ErrInvalidSignature):
			continue
		case errors.Is(err, gateway.ErrInvalidPayload):
			r.metrics.RecordWebhookRejected(ctx, account.Provider, "invalid_payload")
			return nil, gateway.Event{}, domain.ErrInvalidPayload
		default:
			return nil, gateway.Event{}, err
		}
	}

	r.metrics.RecordWebhookRejected(ctx, provider, "signature")
	r.log.Warn("webhook signature matched no processor account",
		zap.String("hint", d.AccountHint),
		zap.Int("candidates", len(candidates)),
	)
	return nil, gateway.Event{}, domain.ErrWebhookSignatureVerificationFailed
}

func (r *Reconciler) logEvent(ctx context.Context, account *processordomain.Account, event gateway.Event, payload []byte) (*domain.EventRecord, error) {
	entry := &domain.EventRecord{
		ID:              r.genID.Generate(),
		Provider:        account.Provider,
		ProviderEventID: event.ID,
		AccountID:       &account.ID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      r.clock.Now().UTC(),
	}
	if event.ObjectID != "" {
		objectID := event.ObjectID
		entry.ObjectID = &objectID
	}

	inserted, err := r.repo.InsertEvent(ctx, r.db, entry)
	if err != nil {
		return nil, err
	}
	if inserted {
		return entry, nil
	}
	existing, err := r.repo.FindEvent(ctx, r.db, account.Provider, event.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return entry, nil
	}
	return existing, nil
}

func (r *Reconciler) apply(ctx context.Context, logger *zap.Logger, account *processordomain.Account, event gateway.Event) (Result, *domain.Notification, error) {
	result := Result{EventID: event.ID, EventType: event.Type, AccountID: account.ID}

	if event.Kind == gateway.EventKindIgnored {
		result.Outcome = domain.OutcomeIgnored
		return result, nil, nil
	}

	if event.TransactionID != "" {
		settled, err := r.repo.FindByExternalTransaction(ctx, r.db, event.TransactionID)
		if err != nil {
			return result, nil, err
		}
		if settled != nil && settled.Status == domain.PaymentStatusPaid {
			logger.Info("transaction already settled", zap.String("receipt_number", settled.ReceiptNumber))
			result.Outcome = domain.OutcomeDuplicate
			result.Record = settled
			return result, nil, nil
		}
	}

	switch event.Kind {
	case gateway.EventKindSucceeded:
		return r.applySucceeded(ctx, logger, account, event, result)
	case gateway.EventKindFailed:
		return r.applyFailed(ctx, logger, event, result)
	case gateway.EventKindCanceled:
		return r.applyCanceled(ctx, logger, event, result)
	}
	result.Outcome = domain.OutcomeIgnored
	return result, nil, nil
}

func (r *Reconciler) applySucceeded(ctx context.Context, logger *zap.Logger, account *processordomain.Account, event gateway.Event, result Result) (Result, *domain.Notification, error) {
	tenant, err := r.findTenant(ctx, event)
	if err != nil {
		return result, nil, err
	}

	query := locateQuery(event)
	if tenant != nil {
		query.TenantID = tenant.ID
	}
	located, err := r.payments.Locate(ctx, query)
	if err != nil {
		return result, nil, err
	}

	var record *domain.PaymentRecord
	switch {
	case located.Record != nil:
		logger.Debug("payment located", zap.String("path", string(located.Path)))
		record, err = r.payments.MarkPaid(ctx, domain.MarkPaidInput{
			Key:           located.Record.ReceiptNumber,
			PaidAt:        event.OccurredAt,
			TransactionID: event.TransactionID,
		})
		if errors.Is(err, domain.ErrInvalidTransition) && tenant != nil {
			// The located charge was closed before the money arrived; the
			// payment is still recorded on its own.
			logger.Warn("payment received for a closed record",
				zap.String("receipt_number", located.Record.ReceiptNumber),
				zap.String("status", string(located.Record.Status)),
			)
			record, err = r.recordExternal(ctx, account, tenant, event, false)
		}
		if errors.Is(err, domain.ErrAlreadyPaid) {
			return r.unmatched(ctx, logger, event, result, "record already paid by another transaction")
		}
	case tenant != nil:
		logger.Warn("no payment record for event, recording from metadata", zap.String("reason", located.Reason))
		record, err = r.recordExternal(ctx, account, tenant, event, true)
	default:
		return r.unmatched(ctx, logger, event, result, "no tenant matched the event")
	}
	if err != nil {
		return result, nil, err
	}

	result.Outcome = domain.OutcomeApplied
	result.Record = record
	return result, r.notification(domain.NotificationSucceeded, account, event, record), nil
}

func (r *Reconciler) applyFailed(ctx context.Context, logger *zap.Logger, event gateway.Event, result Result) (Result, *domain.Notification, error) {
	located, err := r.payments.Locate(ctx, locateQuery(event))
	if err != nil {
		return result, nil, err
	}
	if located.Record == nil {
		return r.unmatched(ctx, logger, event, result, located.Reason)
	}

	record, err := r.payments.MarkFailed(ctx, located.Record.ReceiptNumber, event.FailureMessage, event.OccurredAt)
	if err != nil {
		return result, nil, err
	}
	result.Outcome = domain.OutcomeApplied
	result.Record = record
	n := r.notification(domain.NotificationFailed, nil, event, record)
	n.Reason = event.FailureMessage
	return result, n, nil
}

func (r *Reconciler) applyCanceled(ctx context.Context, logger *zap.Logger, event gateway.Event, result Result) (Result, *domain.Notification, error) {
	located, err := r.payments.Locate(ctx, locateQuery(event))
	if err != nil {
		return result, nil, err
	}
	if located.Record == nil {
		return r.unmatched(ctx, logger, event, result, located.Reason)
	}

	// Only the checkout currently attached to a record can void it; an
	// earlier checkout expiring after a re-issue leaves the record open.
	current := located.Record
	if current.ExternalIntentID != nil && *current.ExternalIntentID != event.ObjectID {
		logger.Info("cancellation for a superseded checkout ignored",
			zap.String("receipt_number", current.ReceiptNumber),
			zap.String("object_id", event.ObjectID),
		)
		result.Outcome = domain.OutcomeIgnored
		result.Record = current
		return result, nil, nil
	}

	record, err := r.payments.MarkCanceled(ctx, current.ReceiptNumber, event.FailureMessage, event.OccurredAt)
	if err != nil {
		return result, nil, err
	}
	result.Outcome = domain.OutcomeApplied
	result.Record = record
	n := r.notification(domain.NotificationCanceled, nil, event, record)
	n.Reason = event.FailureMessage
	return result, n, nil
}

// unmatched acknowledges an event that names no known tenant or payment. It
// is an operational alert, not a delivery failure.
func (r *Reconciler) unmatched(ctx context.Context, logger *zap.Logger, event gateway.Event, result Result, reason string) (Result, *domain.Notification, error) {
	r.metrics.RecordReconciliationMismatch(ctx, event.Type, reason)
	logger.Error("reconciliation mismatch",
		zap.Error(domain.ErrReconciliationMismatch),
		zap.String("reason", reason),
		zap.String("object_id", event.ObjectID),
		zap.String("transaction_id", event.TransactionID),
		zap.String("amount", event.Amount.StringFixed(2)),
	)
	result.Outcome = domain.OutcomeUnmatched
	return result, nil, nil
}

// findTenant resolves the paying tenant from checkout metadata, then from the
// processor customer or payment link recorded on the tenant.
func (r *Reconciler) findTenant(ctx context.Context, event gateway.Event) (*tenancydomain.Tenant, error) {
	if raw := event.MetadataValue(domain.MetaTenantID); raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			tenant, err := r.tenancyRepo.FindTenant(ctx, r.db, id)
			if err != nil || tenant != nil {
				return tenant, err
			}
		}
	}
	for _, ref := range lo.Compact([]string{event.CustomerID, event.LinkID}) {
		tenant, err := r.tenancyRepo.FindTenantByProcessorRef(ctx, r.db, ref)
		if err != nil || tenant != nil {
			return tenant, err
		}
	}
	return nil, nil
}

// recordExternal books a succeeded event with no collectible record. When
// reuseIdentity is set the checkout metadata's record id and receipt are kept
// so an artifact whose local write was lost reappears under its own receipt.
func (r *Reconciler) recordExternal(ctx context.Context, account *processordomain.Account, tenant *tenancydomain.Tenant, event gateway.Event, reuseIdentity bool) (*domain.PaymentRecord, error) {
	input := domain.CreateInput{
		TenantID:              tenant.ID,
		ProcessorAccountID:    &account.ID,
		PaymentType:           domain.PaymentType(event.MetadataValue(domain.MetaPaymentType)),
		Amount:                event.Amount,
		Currency:              event.Currency,
		ExternalTransactionID: event.TransactionID,
		Description:           "Payment reconciled from processor event",
		Metadata:              lo.MapValues(event.Metadata, func(value string, _ string) any { return value }),
	}
	if !input.PaymentType.Valid() {
		input.PaymentType = domain.PaymentTypeRent
	}
	if !event.OccurredAt.IsZero() {
		paidAt := event.OccurredAt.UTC()
		input.PaidDate = &paidAt
	}

	if reuseIdentity {
		if id, err := snowflake.ParseString(event.MetadataValue(domain.MetaPaymentRecordID)); err == nil && id > 0 {
			input.ID = id
		}
		input.ReceiptNumber = event.MetadataValue(domain.MetaReceiptNumber)
		if event.ObjectID != event.TransactionID {
			input.ExternalIntentID = event.ObjectID
		}
	}
	if id, err := snowflake.ParseString(event.MetadataValue(domain.MetaPropertyID)); err == nil && id > 0 {
		input.PropertyID = id
	}
	if id, err := snowflake.ParseString(event.MetadataValue(domain.MetaSpotID)); err == nil && id > 0 {
		input.SpotID = &id
	}
	if amount, err := decimal.NewFromString(event.MetadataValue(domain.MetaAmount)); err == nil && amount.IsPositive() {
		input.Amount = amount
		if fee, err := decimal.NewFromString(event.MetadataValue(domain.MetaLateFeeAmount)); err == nil && !fee.IsNegative() {
			input.LateFeeAmount = fee
		}
	}
	if due, err := time.Parse(domain.MetadataDateLayout, event.MetadataValue(domain.MetaDueDate)); err == nil {
		input.DueDate = due
	}

	return r.payments.RecordExternalPayment(ctx, input)
}

func (r *Reconciler) notification(kind domain.NotificationKind, account *processordomain.Account, event gateway.Event, record *domain.PaymentRecord) *domain.Notification {
	if record == nil {
		return nil
	}
	n := &domain.Notification{
		Kind:       kind,
		EventID:    event.ID,
		EventType:  event.Type,
		Record:     *record,
		OccurredAt: event.OccurredAt,
	}
	if account != nil {
		n.Provider = account.Provider
	}
	return n
}

// notify hands the change to every listener off the request path.
func (r *Reconciler) notify(ctx context.Context, n domain.Notification) {
	if len(r.listeners) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		for _, listener := range r.listeners {
			r.runListener(detached, listener, n)
		}
	}()
}

func (r *Reconciler) runListener(ctx context.Context, listener domain.Listener, n domain.Notification) {
	ctx, cancel := context.WithTimeout(ctx, listenerTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("payment listener panicked", zap.String("listener", listener.Name()), zap.Any("panic", rec))
		}
	}()
	if err := listener.OnPayment(ctx, n); err != nil {
		r.log.Warn("payment listener failed",
			zap.String("listener", listener.Name()),
			zap.String("receipt_number", n.Record.ReceiptNumber),
			zap.Error(err),
		)
	}
}

// Wait blocks until in-flight listener work has finished.
func (r *Reconciler) Wait() {
	r.inflight.Wait()
}

func locateQuery(event gateway.Event) domain.LocateQuery {
	return domain.LocateQuery{
		RecordID:      event.MetadataValue(domain.MetaPaymentRecordID),
		ReceiptNumber: event.MetadataValue(domain.MetaReceiptNumber),
		ExternalIDs:   []string{event.ObjectID, event.TransactionID},
		PaymentType:   domain.PaymentType(event.MetadataValue(domain.MetaPaymentType)),
		Amount:        event.Amount,
	}
}
