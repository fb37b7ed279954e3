package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/card-billing/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes handled explicitly.
const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// tx implements port.BillingTx on an open pgx transaction.
type tx struct {
	q querier
}

func (t *tx) LockAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return getAccount(ctx, t.q, accountID, true)
}

func (t *tx) UpdateAvailableLimit(ctx context.Context, accountID string, availableCents int64) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE accounts SET available_limit_cents = $2, updated_at = now() WHERE id = $1`,
		accountID, availableCents)
	if err != nil {
		return fmt.Errorf("update available limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrAccountNotFound{AccountID: accountID}
	}
	return nil
}

// EnsureBill inserts the bill unless (account_id, reference_month) exists
// already, then returns whichever row won. Concurrent callers for the same
// month all get the same bill.
func (t *tx) EnsureBill(ctx context.Context, bill *domain.Bill) (*domain.Bill, bool, error) {
	id := bill.ID
	if id == "" {
		id = uuid.New().String()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO bills (id, account_id, reference_month, closing_date, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, reference_month) DO NOTHING
		RETURNING `+billColumns,
		id, bill.AccountID, bill.ReferenceMonth, bill.ClosingDate, bill.DueDate, string(bill.Status))
	b, err := scanBill(row)
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, mapWriteError("insert bill", err)
	}

	row = t.q.QueryRow(ctx,
		`SELECT `+billColumns+` FROM bills WHERE account_id = $1 AND reference_month = $2`,
		bill.AccountID, bill.ReferenceMonth)
	b, err = scanBill(row)
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing bill: %w", err)
	}
	return b, false, nil
}

func (t *tx) LockBill(ctx context.Context, billID string) (*domain.Bill, error) {
	b, err := scanBill(t.q.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1 FOR UPDATE`, billID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrBillNotFound{BillID: billID}
	}
	if err != nil {
		if invalidID(err) {
			return nil, &domain.ErrBillNotFound{BillID: billID}
		}
		return nil, fmt.Errorf("lock bill: %w", err)
	}
	return b, nil
}

func (t *tx) LockOutstandingBills(ctx context.Context, accountID string) ([]domain.Bill, error) {
	return queryBills(ctx, t.q, `
		SELECT `+billColumns+` FROM bills
		WHERE account_id = $1 AND status <> 'paid'
		ORDER BY due_date, reference_month
		FOR UPDATE`, accountID)
}

func (t *tx) ListBills(ctx context.Context, accountID string) ([]domain.Bill, error) {
	return queryBills(ctx, t.q, `SELECT `+billColumns+` FROM bills WHERE account_id = $1 ORDER BY reference_month`, accountID)
}

func (t *tx) execBill(ctx context.Context, op, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return mapWriteError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrBillNotFound{BillID: args[0].(string)}
	}
	return nil
}

func (t *tx) UpdateBillTotals(ctx context.Context, billID string, totalCents, minimumCents int64) error {
	return t.execBill(ctx, "update bill totals",
		`UPDATE bills SET total_cents = $2, minimum_payment_cents = $3, updated_at = now() WHERE id = $1`,
		billID, totalCents, minimumCents)
}

func (t *tx) UpdateBillPayment(ctx context.Context, billID string, paidCents int64, status domain.BillStatus) error {
	return t.execBill(ctx, "update bill payment",
		`UPDATE bills SET paid_cents = $2, status = $3, updated_at = now() WHERE id = $1`,
		billID, paidCents, string(status))
}

func (t *tx) UpdateBillStatus(ctx context.Context, billID string, status domain.BillStatus) error {
	return t.execBill(ctx, "update bill status",
		`UPDATE bills SET status = $2, updated_at = now() WHERE id = $1`,
		billID, string(status))
}

func (t *tx) InsertLineItem(ctx context.Context, item *domain.LineItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	err := t.q.QueryRow(ctx, `
		INSERT INTO line_items (id, account_id, bill_id, category_id, description, amount_cents, kind,
			posted_at, installment_number, installment_total, installment_parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		item.ID, item.AccountID, item.BillID, item.CategoryID, item.Description, item.AmountCents,
		string(item.Kind), item.PostedAt, item.InstallmentNumber, item.InstallmentTotal, item.InstallmentParentID,
	).Scan(&item.CreatedAt)
	if err != nil {
		return mapWriteError("insert line item", err)
	}
	return nil
}

func (t *tx) GetLineItem(ctx context.Context, itemID string) (*domain.LineItem, error) {
	i, err := scanItem(t.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM line_items WHERE id = $1 FOR UPDATE`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "line_item", ID: itemID}
	}
	if err != nil {
		if invalidID(err) {
			return nil, &domain.ErrNotFound{Resource: "line_item", ID: itemID}
		}
		return nil, fmt.Errorf("get line item: %w", err)
	}
	return i, nil
}

func (t *tx) ListChain(ctx context.Context, parentID string) ([]domain.LineItem, error) {
	return queryItems(ctx, t.q, `
		SELECT `+itemColumns+` FROM line_items
		WHERE id = $1 OR installment_parent_id = $1
		ORDER BY installment_number, created_at
		FOR UPDATE`, parentID)
}

func (t *tx) ListBillItems(ctx context.Context, billID string) ([]domain.LineItem, error) {
	return queryItems(ctx, t.q, `SELECT `+itemColumns+` FROM line_items WHERE bill_id = $1 ORDER BY posted_at, created_at`, billID)
}

func (t *tx) DeleteLineItems(ctx context.Context, itemIDs []string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM line_items WHERE id = ANY($1::uuid[])`, itemIDs)
	if err != nil {
		return mapWriteError("delete line items", err)
	}
	if int(tag.RowsAffected()) != len(itemIDs) {
		return &domain.ErrNotFound{Resource: "line_item", ID: fmt.Sprint(itemIDs)}
	}
	return nil
}

// mapWriteError turns constraint violations into domain errors.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return &domain.ErrConflict{Message: fmt.Sprintf("%s: %s", op, pgErr.Detail)}
		case pgCheckViolation:
			return &domain.ErrValidation{Field: pgErr.ConstraintName, Message: pgErr.Message}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
