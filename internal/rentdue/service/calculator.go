package service

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/rentdue/domain"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
)

// Calculate derives the next rent charge from the lease and the tenant's rent
// history (oldest first). It performs no I/O.
//
// With no history the charge is due on the lease start and, when the lease
// starts after the 1st, covers only the remaining days of that month. Every
// later charge is the full rent due on the 1st of the reference month.
func Calculate(lease *tenancydomain.Lease, history []paymentdomain.PaymentRecord, ref time.Time) (domain.Quote, error) {
	if lease == nil || lease.LeaseStatus != tenancydomain.LeaseStatusActive {
		return domain.Quote{}, paymentdomain.ErrNoActiveLease
	}

	quote := domain.Quote{
		TenantID:   lease.TenantID,
		LeaseID:    lease.ID,
		PropertyID: lease.PropertyID,
		SpotID:     lease.SpotID,
	}

	if len(history) == 0 {
		start := dateOf(lease.LeaseStart)
		days := daysIn(start)
		remaining := days - start.Day() + 1

		quote.IsFirstTimePayment = true
		quote.DueDate = start
		quote.PeriodStart = start
		quote.PeriodEnd = MonthStart(start).AddDate(0, 1, 0)
		quote.Amount = lease.RentAmount
		quote.Description = fmt.Sprintf("Rent for %s", start.Format("January 2006"))
		if start.Day() > 1 {
			quote.IsProrated = true
			quote.Amount = Prorate(lease.RentAmount, days, remaining)
			quote.Description = fmt.Sprintf("Prorated rent for %s (%d of %d days)", start.Format("January 2006"), remaining, days)
		}
		return quote, nil
	}

	target := MonthStart(ref)
	next := target.AddDate(0, 1, 0)
	for _, record := range history {
		if record.Status == paymentdomain.PaymentStatusCancelled {
			continue
		}
		due := record.DueDate.UTC()
		if !due.Before(target) && due.Before(next) {
			return domain.Quote{}, paymentdomain.ErrDuplicatePeriodPayment
		}
	}

	quote.DueDate = target
	quote.PeriodStart = target
	quote.PeriodEnd = next
	quote.Amount = lease.RentAmount
	quote.Description = fmt.Sprintf("Rent for %s", target.Format("January 2006"))
	return quote, nil
}

// Prorate charges rent for the given number of days of a month, rounded half
// away from zero to whole currency units.
func Prorate(rent decimal.Decimal, daysInMonth, days int) decimal.Decimal {
	if daysInMonth <= 0 {
		return rent
	}
	return rent.Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(int64(daysInMonth))).
		Round(0)
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysIn(t time.Time) int {
	return MonthStart(t).AddDate(0, 1, -1).Day()
}
