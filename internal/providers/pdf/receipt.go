package pdf

import (
	"context"
	"errors"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData is pre-formatted; the renderer does no money or date math.
type ReceiptData struct {
	ReceiptNumber   string
	Status          string
	IssuedBy        string
	TenantName      string
	TenantEmail     string
	PropertyName    string
	PropertyAddress string
	SpotLabel       string
	PaymentType     string
	Description     string
	DueDate         string
	DatePaid        string
	TransactionID   string
	Currency        string
	Amount          string
	LateFee         string
	Total           string
}

func (p *MarotoProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if receipt.ReceiptNumber == "" {
		return nil, errors.New("receipt number is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Payment receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, receipt.Status, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Receipt number: "+receipt.ReceiptNumber, props.Text{Top: 0}),
			text.New("Date paid: "+receipt.DatePaid, props.Text{Top: 4}),
			text.New("Due date: "+receipt.DueDate, props.Text{Top: 8}),
			text.New("Transaction: "+receipt.TransactionID, props.Text{Top: 12, Size: 8}),
		),
		col.New(6),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New("Paid by", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.TenantName, props.Text{Top: 5}),
			text.New(receipt.TenantEmail, props.Text{Top: 9}),
		),
		col.New(6).Add(
			text.New("Property", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.PropertyName, props.Text{Top: 5}),
			text.New(receipt.PropertyAddress, props.Text{Top: 9}),
			text.New(receipt.SpotLabel, props.Text{Top: 13}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount ("+receipt.Currency+")", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, col.New(12))

	m.AddRow(10,
		text.NewCol(8, receipt.PaymentType+" - "+receipt.Description, props.Text{Size: 9}),
		text.NewCol(4, receipt.Amount, props.Text{Size: 9, Align: align.Right}),
	)
	if receipt.LateFee != "" {
		m.AddRow(10,
			text.NewCol(8, "Late fee", props.Text{Size: 9}),
			text.NewCol(4, receipt.LateFee, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Total paid", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, receipt.Total, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	if receipt.IssuedBy != "" {
		m.AddRow(15,
			text.NewCol(12, "Collected by "+receipt.IssuedBy, props.Text{Size: 8, Top: 6}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
