package billing

import (
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
)

// Event drives a bill status change.
type Event string

const (
	// EventClose fires once the closing date has passed.
	EventClose Event = "close"
	// EventDuePassed fires once the due date has passed with money still owed.
	EventDuePassed Event = "due_passed"
	// EventPayment fires when a payment allocation is applied.
	EventPayment Event = "payment"
	// EventTotalChanged fires when items were added to or removed from a bill.
	EventTotalChanged Event = "total_changed"
)

// AcceptsPayment reports whether allocations may be applied to a bill in s.
func AcceptsPayment(s domain.BillStatus) bool {
	switch s {
	case domain.BillOpen, domain.BillClosed, domain.BillPartial, domain.BillOverdue:
		return true
	}
	return false
}

// Transition returns the status a bill moves to when ev happens, given its
// paid and total amounts after the event.
//
//	open    -close->     closed
//	open, closed, partial -due_passed-> overdue   (only while paid < total)
//	open, closed, partial, overdue -payment-> partial | paid
//	paid -total_changed-> partial                 (new charge, something already paid)
//	paid -total_changed-> open                    (new charge, nothing paid)
//	open, closed, partial, overdue -total_changed-> paid  (total fell to what was paid)
func Transition(from domain.BillStatus, ev Event, paidCents, totalCents int64) (domain.BillStatus, error) {
	switch ev {
	case EventClose:
		if from == domain.BillOpen {
			return domain.BillClosed, nil
		}
	case EventDuePassed:
		switch from {
		case domain.BillOpen, domain.BillClosed, domain.BillPartial:
			if paidCents < totalCents {
				return domain.BillOverdue, nil
			}
		}
	case EventPayment:
		if AcceptsPayment(from) {
			if paidCents >= totalCents {
				return domain.BillPaid, nil
			}
			if paidCents > 0 {
				return domain.BillPartial, nil
			}
			return from, nil
		}
	case EventTotalChanged:
		switch {
		case from == domain.BillPaid && paidCents > 0 && paidCents < totalCents:
			return domain.BillPartial, nil
		case from == domain.BillPaid && paidCents == 0 && totalCents > 0:
			return domain.BillOpen, nil
		case AcceptsPayment(from) && paidCents > 0 && paidCents >= totalCents:
			return domain.BillPaid, nil
		}
		return from, nil
	}
	return from, &domain.ErrInvalidTransition{From: from, Event: string(ev)}
}

// ApplyPayment adds up to amountCents to the bill's paid amount, never beyond
// its total, and moves the status accordingly. It returns what was applied.
func ApplyPayment(b *domain.Bill, amountCents int64) (int64, error) {
	if amountCents <= 0 {
		return 0, &domain.ErrValidation{Field: "amount_cents", Message: "must be positive"}
	}
	if !AcceptsPayment(b.Status) {
		return 0, &domain.ErrInvalidTransition{From: b.Status, Event: string(EventPayment)}
	}

	applied := amountCents
	if unpaid := b.UnpaidCents(); applied > unpaid {
		applied = unpaid
	}
	if applied == 0 {
		return 0, nil
	}

	next, err := Transition(b.Status, EventPayment, b.PaidCents+applied, b.TotalCents)
	if err != nil {
		return 0, err
	}
	b.PaidCents += applied
	b.Status = next
	return applied, nil
}

// Reconcile moves the status after a total change and reports whether it
// changed. It does not touch the paid amount. A bill reopened this way is
// refreshed as of asOf so it lands on closed or overdue when those dates have
// already passed.
func Reconcile(b *domain.Bill, asOf time.Time) bool {
	before := b.Status
	next, err := Transition(b.Status, EventTotalChanged, b.PaidCents, b.TotalCents)
	if err != nil || next == b.Status {
		return false
	}
	b.Status = next
	if next == domain.BillOpen {
		Refresh(b, asOf)
	}
	return b.Status != before
}

// Refresh applies the time-driven transitions as of asOf and reports whether
// the status changed. A date "has passed" once asOf is on a later calendar day.
func Refresh(b *domain.Bill, asOf time.Time) bool {
	day := dateOf(asOf)
	before := b.Status

	if b.Status == domain.BillOpen && day.After(b.ClosingDate) {
		b.Status, _ = Transition(b.Status, EventClose, b.PaidCents, b.TotalCents)
	}
	if day.After(b.DueDate) {
		if next, err := Transition(b.Status, EventDuePassed, b.PaidCents, b.TotalCents); err == nil {
			b.Status = next
		}
	}
	return b.Status != before
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
