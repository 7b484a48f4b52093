package receipt

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/providers/pdf"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

var ErrNotPaid = errors.New("receipt_requires_paid_payment")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Payments    domain.Service
	TenancyRepo tenancydomain.Repository
	PDF         pdf.Provider
}

// Service renders receipts for settled payments.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	payments    domain.Service
	tenancyRepo tenancydomain.Repository
	pdf         pdf.Provider
}

func New(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.receipt"),
		payments:    p.Payments,
		tenancyRepo: p.TenancyRepo,
		pdf:         p.PDF,
	}
}

func (s *Service) PDF(ctx context.Context, receiptNumber string) ([]byte, error) {
	record, err := s.payments.GetByReceipt(ctx, receiptNumber)
	if err != nil {
		return nil, err
	}
	data, err := s.Data(ctx, *record)
	if err != nil {
		return nil, err
	}
	return s.pdf.GenerateReceipt(ctx, data)
}

// Data formats a PAID or REFUNDED record for rendering.
func (s *Service) Data(ctx context.Context, record domain.PaymentRecord) (pdf.ReceiptData, error) {
	if record.Status != domain.PaymentStatusPaid && record.Status != domain.PaymentStatusRefunded {
		return pdf.ReceiptData{}, ErrNotPaid
	}

	data := pdf.ReceiptData{
		ReceiptNumber: record.ReceiptNumber,
		Status:        string(record.Status),
		PaymentType:   string(record.PaymentType),
		Description:   record.Description,
		DueDate:       record.DueDate.Format(dateLayout),
		Currency:      strings.ToUpper(record.Currency),
		Amount:        record.Amount.StringFixed(2),
		Total:         record.TotalAmount.StringFixed(2),
	}
	if record.LateFeeAmount.IsPositive() {
		data.LateFee = record.LateFeeAmount.StringFixed(2)
	}
	if record.PaidDate != nil {
		data.DatePaid = record.PaidDate.Format(dateLayout)
	}
	if record.ExternalTransactionID != nil {
		data.TransactionID = *record.ExternalTransactionID
	}
	if name, ok := record.Metadata[domain.MetaAccountName].(string); ok {
		data.IssuedBy = name
	}

	tenant, err := s.tenancyRepo.FindTenant(ctx, s.db, record.TenantID)
	if err != nil {
		return pdf.ReceiptData{}, err
	}
	if tenant != nil {
		data.TenantName = tenant.Name
		data.TenantEmail = tenant.Email
	}
	property, err := s.tenancyRepo.FindProperty(ctx, s.db, record.PropertyID)
	if err != nil {
		return pdf.ReceiptData{}, err
	}
	if property != nil {
		data.PropertyName = property.Name
		data.PropertyAddress = property.Address
	}
	if record.SpotID != nil {
		spot, err := s.tenancyRepo.FindSpot(ctx, s.db, *record.SpotID)
		if err != nil {
			return pdf.ReceiptData{}, err
		}
		if spot != nil {
			data.SpotLabel = "Spot " + spot.Label
		}
	}
	return data, nil
}
