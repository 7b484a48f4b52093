package receipt

import (
	"bytes"
	"context"
	"html/template"

	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/providers/email"
	"go.uber.org/zap"
)

var receiptEmail = template.Must(template.New("receipt").Parse(`<p>Hi {{.TenantName}},</p>
<p>We received your {{.PaymentType}} payment of <strong>{{.Currency}} {{.Total}}</strong> for {{.PropertyName}}.</p>
<table>
<tr><td>Receipt</td><td>{{.ReceiptNumber}}</td></tr>
<tr><td>Due date</td><td>{{.DueDate}}</td></tr>
<tr><td>Paid on</td><td>{{.DatePaid}}</td></tr>
{{if .LateFee}}<tr><td>Late fee</td><td>{{.LateFee}}</td></tr>{{end}}
</table>
`))

// Mailer emails a receipt to the tenant once a payment succeeds.
type Mailer struct {
	receipts *Service
	email    email.Provider
	log      *zap.Logger
}

func NewMailer(receipts *Service, provider email.Provider, log *zap.Logger) *Mailer {
	return &Mailer{
		receipts: receipts,
		email:    provider,
		log:      log.Named("payment.receipt.mailer"),
	}
}

func (m *Mailer) Name() string { return "receipt_email" }

func (m *Mailer) OnPayment(ctx context.Context, n domain.Notification) error {
	if n.Kind != domain.NotificationSucceeded {
		return nil
	}
	data, err := m.receipts.Data(ctx, n.Record)
	if err != nil {
		return err
	}
	if data.TenantEmail == "" {
		m.log.Debug("tenant has no email, receipt not sent", zap.String("receipt_number", data.ReceiptNumber))
		return nil
	}

	var body bytes.Buffer
	if err := receiptEmail.Execute(&body, data); err != nil {
		return err
	}
	return m.email.Send(ctx, email.Message{
		To:       []string{data.TenantEmail},
		Subject:  "Payment received - " + data.ReceiptNumber,
		HTMLBody: body.String(),
	})
}
