package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/card-billing/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const accountColumns = `id::text, owner_id, name, account_type, COALESCE(closing_day, 0), due_day,
	credit_limit_cents, available_limit_cents, expires_at, created_at, updated_at`

const billColumns = `id::text, account_id::text, reference_month, closing_date, due_date,
	total_cents, minimum_payment_cents, paid_cents, previous_balance_cents, interest_cents,
	interest_rate_applied, status, created_at, updated_at`

const itemColumns = `id::text, account_id::text, bill_id::text, category_id, description, amount_cents,
	kind, posted_at, installment_number, installment_total, installment_parent_id::text, created_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var accountType string
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &accountType, &a.ClosingDay, &a.DueDay,
		&a.CreditLimitCents, &a.AvailableLimitCents, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AccountType(accountType)
	return &a, nil
}

func scanBill(row pgx.Row) (*domain.Bill, error) {
	var b domain.Bill
	var status string
	err := row.Scan(&b.ID, &b.AccountID, &b.ReferenceMonth, &b.ClosingDate, &b.DueDate,
		&b.TotalCents, &b.MinimumPaymentCents, &b.PaidCents, &b.PreviousBalanceCents, &b.InterestCents,
		&b.InterestRateApplied, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BillStatus(status)
	return &b, nil
}

func scanItem(row pgx.Row) (*domain.LineItem, error) {
	var i domain.LineItem
	var kind string
	err := row.Scan(&i.ID, &i.AccountID, &i.BillID, &i.CategoryID, &i.Description, &i.AmountCents,
		&kind, &i.PostedAt, &i.InstallmentNumber, &i.InstallmentTotal, &i.InstallmentParentID, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	i.Kind = domain.ItemKind(kind)
	return &i, nil
}

func getAccount(ctx context.Context, q querier, accountID string, forUpdate bool) (*domain.Account, error) {
	sql := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	a, err := scanAccount(q.QueryRow(ctx, sql, accountID))
	if errors.Is(err, pgx.ErrNoRows) || invalidID(err) {
		return nil, &domain.ErrAccountNotFound{AccountID: accountID}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// invalidID reports whether err is postgres rejecting a malformed uuid.
func invalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func queryBills(ctx context.Context, q querier, sql string, args ...any) ([]domain.Bill, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bills: %w", err)
	}
	defer rows.Close()

	var out []domain.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query bills: %w", err)
	}
	return out, nil
}

func queryItems(ctx context.Context, q querier, sql string, args ...any) ([]domain.LineItem, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		out = append(out, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	return out, nil
}
