package domain

import "time"

// ============================================================
// Bills (monthly card statements)
// ============================================================

// BillStatus is the lifecycle state of a bill.
type BillStatus string

const (
	BillOpen    BillStatus = "open"
	BillClosed  BillStatus = "closed"
	BillPartial BillStatus = "partial"
	BillOverdue BillStatus = "overdue"
	BillPaid    BillStatus = "paid"
)

// MonthLayout is the wire format of a reference month ("2026-02").
const MonthLayout = "2006-01"

// Bill is one monthly statement of a card, keyed by (AccountID, ReferenceMonth).
type Bill struct {
	ID                   string     `json:"id"`
	AccountID            string     `json:"account_id"`
	ReferenceMonth       time.Time  `json:"reference_month"` // first day of the month, UTC
	ClosingDate          time.Time  `json:"closing_date"`
	DueDate              time.Time  `json:"due_date"`
	TotalCents           int64      `json:"total_cents"`
	MinimumPaymentCents  int64      `json:"minimum_payment_cents"`
	PaidCents            int64      `json:"paid_cents"`
	PreviousBalanceCents int64      `json:"previous_balance_cents"`
	InterestCents        int64      `json:"interest_cents"`
	InterestRateApplied  float64    `json:"interest_rate_applied"`
	Status               BillStatus `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// UnpaidCents returns what is still owed on the bill, never negative.
func (b *Bill) UnpaidCents() int64 {
	if u := b.TotalCents - b.PaidCents; u > 0 {
		return u
	}
	return 0
}

// Month returns the reference month as "2006-01".
func (b *Bill) Month() string {
	return b.ReferenceMonth.Format(MonthLayout)
}

// ============================================================
// Line items
// ============================================================

// ItemKind tags a line item as a charge or a credit. Amounts are always
// positive; the kind carries the direction.
type ItemKind string

const (
	ItemCharge ItemKind = "charge"
	ItemCredit ItemKind = "credit"
)

// LineItem is a purchase, a refund, or one installment slice of a purchase.
type LineItem struct {
	ID                  string    `json:"id"`
	AccountID           string    `json:"account_id"`
	BillID              *string   `json:"bill_id,omitempty"`
	CategoryID          string    `json:"category_id,omitempty"`
	Description         string    `json:"description"`
	AmountCents         int64     `json:"amount_cents"`
	Kind                ItemKind  `json:"kind"`
	PostedAt            time.Time `json:"posted_at"`
	InstallmentNumber   int       `json:"installment_number"`
	InstallmentTotal    int       `json:"installment_total"`
	InstallmentParentID *string   `json:"installment_parent_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// SignedCents returns the item's contribution to a bill total.
func (i *LineItem) SignedCents() int64 {
	if i.Kind == ItemCredit {
		return -i.AmountCents
	}
	return i.AmountCents
}

// ChainID returns the id of the installment chain the item belongs to.
func (i *LineItem) ChainID() string {
	if i.InstallmentParentID != nil {
		return *i.InstallmentParentID
	}
	return i.ID
}

// BillDetail is a bill together with its line items.
type BillDetail struct {
	Bill  Bill       `json:"bill"`
	Items []LineItem `json:"items"`
}

// ============================================================
// Purchases
// ============================================================

// PurchaseRequest creates a purchase of TotalAmountCents on an account,
// optionally split into InstallmentCount monthly slices.
type PurchaseRequest struct {
	AccountID        string    `json:"account_id"`
	CategoryID       string    `json:"category_id,omitempty"`
	Description      string    `json:"description"`
	TotalAmountCents int64     `json:"total_amount_cents"`
	InstallmentCount int       `json:"installment_count"`
	PostedAt         time.Time `json:"posted_at"`
	Kind             ItemKind  `json:"kind,omitempty"`
}

// PurchaseResult is returned after a purchase has been persisted.
type PurchaseResult struct {
	ParentItemID        string     `json:"parent_item_id"`
	Items               []LineItem `json:"items"`
	Bills               []Bill     `json:"bills"`
	AvailableLimitCents int64      `json:"available_limit_cents"`
}

// DeletionResult is returned after line items were removed. OverpaidCents is
// what was paid on the touched bills beyond their new totals and was taken
// off their paid amounts.
type DeletionResult struct {
	DeletedItemIDs      []string `json:"deleted_item_ids"`
	Bills               []Bill   `json:"bills"`
	AvailableLimitCents int64    `json:"available_limit_cents"`
	OverpaidCents       int64    `json:"overpaid_cents"`
}

// ============================================================
// Payments
// ============================================================

// Allocation is the share of a payment applied to one bill.
type Allocation struct {
	BillID         string     `json:"bill_id"`
	ReferenceMonth string     `json:"reference_month"`
	AmountCents    int64      `json:"amount_cents"`
	Status         BillStatus `json:"status"`
}

// AllocationResult is the outcome of applying one payment to a card.
// UnallocatedCents is whatever exceeded the outstanding bills; it is reported
// back to the caller and never carried to a future bill.
type AllocationResult struct {
	AccountID           string       `json:"account_id"`
	PaymentCents        int64        `json:"payment_cents"`
	AllocatedCents      int64        `json:"allocated_cents"`
	UnallocatedCents    int64        `json:"unallocated_cents"`
	Allocations         []Allocation `json:"allocations"`
	AvailableLimitCents int64        `json:"available_limit_cents"`
	PaidAt              time.Time    `json:"paid_at"`
}

// PaymentRequest is the body of the payment endpoints.
type PaymentRequest struct {
	AmountCents int64     `json:"amount_cents"`
	PaidAt      time.Time `json:"paid_at,omitempty"`
}

// ============================================================
// Collaborator payloads
// ============================================================

// BudgetProjection is an expected expense for a future month, written to the
// budget service for installments that land in already budgeted months.
type BudgetProjection struct {
	OwnerID      string `json:"owner_id"`
	CategoryID   string `json:"category_id"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	AmountCents  int64  `json:"amount_cents"`
	SourceItemID string `json:"source_item_id"`
}

// BillEvent is published after a committed change to a bill.
type BillEvent struct {
	Type                string     `json:"type"`
	AccountID           string     `json:"account_id"`
	BillID              string     `json:"bill_id"`
	ReferenceMonth      string     `json:"reference_month"`
	TotalCents          int64      `json:"total_cents"`
	PaidCents           int64      `json:"paid_cents"`
	Status              BillStatus `json:"status"`
	AvailableLimitCents int64      `json:"available_limit_cents"`
	OccurredAt          time.Time  `json:"occurred_at"`
}

// BillEventUpdated is the only event type emitted today.
const BillEventUpdated = "bill.updated"
