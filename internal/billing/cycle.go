// Package billing holds the pure card-billing rules: which bill a posting
// belongs to, how installments are split, how bill totals and the available
// limit are derived, how a payment is spread over bills, and which status
// changes a bill may go through. Nothing here touches storage.
package billing

import (
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
)

// DefaultDueOffsetDays is added to the closing day to get the due day when a
// card has none. The result is clamped to the month like any other due day.
const DefaultDueOffsetDays = 10

// Period is the bill a posting date resolves to.
type Period struct {
	ReferenceMonth time.Time
	ClosingDate    time.Time
	DueDate        time.Time
}

// Month returns the reference month as "2006-01".
func (p Period) Month() string {
	return p.ReferenceMonth.Format(domain.MonthLayout)
}

// ValidateCycle checks a card's cycle configuration. dueDay 0 means day
// closingDay+10 of the closing month, clamped to its last day.
func ValidateCycle(closingDay, dueDay int) error {
	if closingDay < 1 || closingDay > 31 {
		return &domain.ErrInvalidCycleConfig{Field: "closing_day", Value: closingDay}
	}
	if dueDay < 0 || dueDay > 31 {
		return &domain.ErrInvalidCycleConfig{Field: "due_day", Value: dueDay}
	}
	return nil
}

// ResolvePeriod maps a posting date to its bill. A posting after the closing
// day belongs to the next month's bill. Closing and due days beyond the end of
// the target month are clamped to its last day. A due day earlier than the
// closing day falls in the month after the closing month, so the closing date
// never comes after the due date.
func ResolvePeriod(postedAt time.Time, closingDay, dueDay int) (Period, error) {
	if err := ValidateCycle(closingDay, dueDay); err != nil {
		return Period{}, err
	}

	y, m, d := postedAt.Date()
	target := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	if d > closingDay {
		target = target.AddDate(0, 1, 0)
	}

	closing := DayInMonth(target, closingDay)

	var due time.Time
	switch {
	case dueDay == 0:
		due = DayInMonth(target, closingDay+DefaultDueOffsetDays)
	case dueDay < closingDay:
		due = DayInMonth(target.AddDate(0, 1, 0), dueDay)
	default:
		due = DayInMonth(target, dueDay)
	}

	return Period{ReferenceMonth: target, ClosingDate: closing, DueDate: due}, nil
}

// MonthStart normalises t to the first day of its month at UTC midnight.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth parses a "2006-01" reference month.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(domain.MonthLayout, s)
	if err != nil {
		return time.Time{}, &domain.ErrValidation{Field: "month", Message: "expected YYYY-MM"}
	}
	return t, nil
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayInMonth returns day of month's month, clamped to its last day.
func DayInMonth(month time.Time, day int) time.Time {
	y, m, _ := month.Date()
	if last := DaysIn(y, m); day > last {
		day = last
	}
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// AddMonths moves t by n calendar months keeping the time of day. The day is
// clamped instead of overflowing, so Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	ty, tm, _ := first.Date()
	if last := DaysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// NewBill returns the zero-state bill for a period.
func NewBill(accountID string, p Period) domain.Bill {
	return domain.Bill{
		AccountID:      accountID,
		ReferenceMonth: p.ReferenceMonth,
		ClosingDate:    p.ClosingDate,
		DueDate:        p.DueDate,
		Status:         domain.BillOpen,
	}
}
