package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/pkg/db/pagination"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var historyStatuses = []domain.PaymentStatus{
	domain.PaymentStatusPending,
	domain.PaymentStatusPaid,
	domain.PaymentStatusOverdue,
	domain.PaymentStatusRefunded,
	domain.PaymentStatusPartial,
}

func (s *Service) Get(ctx context.Context, key string) (*domain.PaymentRecord, error) {
	record, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return record, nil
}

func (s *Service) GetByReceipt(ctx context.Context, receiptNumber string) (*domain.PaymentRecord, error) {
	receiptNumber = strings.TrimSpace(receiptNumber)
	if receiptNumber == "" {
		return nil, domain.ErrNotFound
	}
	record, err := s.repo.FindByReceipt(ctx, s.db, receiptNumber)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return record, nil
}

func (s *Service) GetByExternalTransaction(ctx context.Context, transactionID string) (*domain.PaymentRecord, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, domain.ErrNotFound
	}
	record, err := s.repo.FindByExternalTransaction(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return record, nil
}

func (s *Service) FindInPeriod(ctx context.Context, tenantID snowflake.ID, paymentType domain.PaymentType, from, to time.Time) (*domain.PaymentRecord, error) {
	return s.repo.FindInPeriod(ctx, s.db, tenantID, paymentType, from.UTC(), to.UTC())
}

// ListHistory returns the tenant's live records of a type, oldest due first.
// Cancelled records are not history.
func (s *Service) ListHistory(ctx context.Context, tenantID snowflake.ID, paymentType domain.PaymentType) ([]domain.PaymentRecord, error) {
	return s.repo.ListByTenant(ctx, s.db, tenantID, paymentType, historyStatuses, domain.SortAsc, 0)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter, err := s.buildFilter(req)
	if err != nil {
		return domain.ListResponse{}, err
	}

	records, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	size := filter.Limit - 1
	resp := domain.ListResponse{Payments: records}
	if len(records) > size {
		resp.Payments = records[:size]
		resp.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{Offset: filter.Offset + size})
		if err != nil {
			return domain.ListResponse{}, err
		}
		resp.NextPageToken = token
	}
	if filter.Offset > 0 {
		token, err := pagination.EncodeCursor(pagination.Cursor{Offset: lo.Max([]int{filter.Offset - size, 0})})
		if err != nil {
			return domain.ListResponse{}, err
		}
		resp.PreviousPageToken = token
	}
	if resp.Payments == nil {
		resp.Payments = []domain.PaymentRecord{}
	}
	return resp, nil
}

// buildFilter validates a list request against the enumerated filters. Limit
// is one past the page size so the repository can signal another page.
func (s *Service) buildFilter(req domain.ListRequest) (domain.ListFilter, error) {
	var filter domain.ListFilter

	if strings.TrimSpace(req.TenantID) != "" {
		id, err := parseID(req.TenantID)
		if err != nil {
			return filter, domain.ErrInvalidFilter
		}
		filter.TenantID = id
	}
	if strings.TrimSpace(req.PropertyID) != "" {
		id, err := parseID(req.PropertyID)
		if err != nil {
			return filter, domain.ErrInvalidFilter
		}
		filter.PropertyID = id
	}
	if req.Status != "" {
		if !req.Status.Valid() {
			return filter, domain.ErrInvalidFilter
		}
		filter.Status = req.Status
	}
	if req.PaymentType != "" {
		if !req.PaymentType.Valid() {
			return filter, domain.ErrInvalidFilter
		}
		filter.PaymentType = req.PaymentType
	}
	filter.DueFrom = req.DueFrom
	filter.DueTo = req.DueTo

	switch req.SortBy {
	case "":
		filter.SortBy = domain.SortByDueDate
	case domain.SortByDueDate, domain.SortByCreatedAt, domain.SortByTotalAmount:
		filter.SortBy = req.SortBy
	default:
		return filter, domain.ErrInvalidFilter
	}
	switch req.SortOrder {
	case "":
		filter.SortOrder = domain.SortAsc
	case domain.SortAsc, domain.SortDesc:
		filter.SortOrder = req.SortOrder
	default:
		return filter, domain.ErrInvalidFilter
	}

	size := req.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	filter.Limit = lo.Min([]int{size, maxPageSize}) + 1

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil || cursor.Offset < 0 {
			return filter, domain.ErrInvalidFilter
		}
		filter.Offset = cursor.Offset
	}
	return filter, nil
}

func (s *Service) Locate(ctx context.Context, query domain.LocateQuery) (domain.LocateResult, error) {
	if id, err := parseID(query.RecordID); err == nil {
		record, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return domain.LocateResult{}, err
		}
		if record != nil {
			return domain.LocateResult{Record: record, Path: domain.LocateByMetadata}, nil
		}
	}
	if receipt := strings.TrimSpace(query.ReceiptNumber); receipt != "" {
		record, err := s.repo.FindByReceipt(ctx, s.db, receipt)
		if err != nil {
			return domain.LocateResult{}, err
		}
		if record != nil {
			return domain.LocateResult{Record: record, Path: domain.LocateByMetadata}, nil
		}
	}

	for _, externalID := range lo.Uniq(lo.Compact(query.ExternalIDs)) {
		record, err := s.repo.FindByExternalID(ctx, s.db, externalID)
		if err != nil {
			return domain.LocateResult{}, err
		}
		if record != nil {
			return domain.LocateResult{Record: record, Path: domain.LocateByExternal}, nil
		}
	}

	if query.TenantID == 0 {
		return domain.LocateResult{Reason: "no identifiers matched a payment record"}, nil
	}
	lease, err := s.tenancyRepo.FindActiveLeaseForTenant(ctx, s.db, query.TenantID)
	if err != nil {
		return domain.LocateResult{}, err
	}
	if lease == nil {
		return domain.LocateResult{Reason: "tenant has no active lease"}, nil
	}

	paymentType := query.PaymentType
	if paymentType == "" {
		paymentType = domain.PaymentTypeRent
	}
	record, err := s.repo.FindOldestCollectible(ctx, s.db, query.TenantID, lease.ID, paymentType, positiveOrNil(query.Amount))
	if err != nil {
		return domain.LocateResult{}, err
	}
	if record == nil {
		return domain.LocateResult{Reason: "no collectible payment on the active lease"}, nil
	}
	return domain.LocateResult{Record: record, Path: domain.LocateByLease}, nil
}

// lookup resolves a record by receipt number, processor reference or id.
func (s *Service) lookup(ctx context.Context, key string) (*domain.PaymentRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	record, err := s.repo.FindByReceipt(ctx, s.db, key)
	if err != nil || record != nil {
		return record, err
	}
	record, err = s.repo.FindByExternalID(ctx, s.db, key)
	if err != nil || record != nil {
		return record, err
	}
	if id, err := parseID(key); err == nil {
		return s.repo.FindByID(ctx, s.db, id)
	}
	return nil, nil
}
