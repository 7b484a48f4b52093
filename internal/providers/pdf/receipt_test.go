package pdf

import (
	"bytes"
	"context"
	"testing"
)

func TestGenerateReceipt(t *testing.T) {
	doc, err := New().GenerateReceipt(context.Background(), ReceiptData{
		ReceiptNumber: "RCP-01HQ",
		Status:        "PAID",
		TenantName:    "Jamie Rivera",
		PropertyName:  "Cedar Court",
		PaymentType:   "RENT",
		Description:   "Rent for March 2024",
		DueDate:       "2024-03-01",
		DatePaid:      "2024-03-02",
		Currency:      "USD",
		Amount:        "1500.00",
		LateFee:       "25.00",
		Total:         "1525.00",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Fatalf("expected a pdf document, got %d bytes", len(doc))
	}
}

func TestGenerateReceiptRequiresNumber(t *testing.T) {
	if _, err := New().GenerateReceipt(context.Background(), ReceiptData{}); err == nil {
		t.Fatal("expected error without receipt number")
	}
}
