package domain

import "time"

// ============================================================
// Accounts
// ============================================================

// AccountType identifies the kind of financial account.
type AccountType string

const (
	AccountCreditCard AccountType = "credit_card"
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCash       AccountType = "cash"
)

// Account is a generic financial account. Credit cards are accounts of type
// credit_card and carry the billing cycle configuration.
type Account struct {
	ID      string      `json:"id"`
	OwnerID string      `json:"owner_id"`
	Name    string      `json:"name"`
	Type    AccountType `json:"account_type"`

	// Card cycle (credit_card only)
	ClosingDay          int        `json:"closing_day,omitempty"`
	DueDay              int        `json:"due_day,omitempty"` // 0 = closing day + 10
	CreditLimitCents    int64      `json:"credit_limit_cents"`
	AvailableLimitCents int64      `json:"available_limit_cents"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCard reports whether purchases on the account are billed monthly.
func (a *Account) IsCard() bool {
	return a.Type == AccountCreditCard
}

// Expired reports whether the card is past its expiration date at now.
func (a *Account) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// AccountOverview is the read model returned by GET /v1/cards/{cardId}.
type AccountOverview struct {
	Account          *Account `json:"account"`
	OutstandingCents int64    `json:"outstanding_cents"`
	OpenBills        []Bill   `json:"open_bills"`
}
