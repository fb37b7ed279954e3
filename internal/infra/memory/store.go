// Package memory implements the billing store in process memory. It backs the
// service tests and local runs without DATABASE_URL. Transactions are
// serialized by a single mutex and rolled back by restoring a snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/port"

	"github.com/google/uuid"
)

type storedItem struct {
	item domain.LineItem
	seq  int64
}

type state struct {
	accounts map[string]domain.Account
	bills    map[string]domain.Bill
	billKeys map[string]string // accountID|YYYY-MM -> billID
	items    map[string]storedItem
	seq      int64
}

func newState() *state {
	return &state{
		accounts: make(map[string]domain.Account),
		bills:    make(map[string]domain.Bill),
		billKeys: make(map[string]string),
		items:    make(map[string]storedItem),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts: make(map[string]domain.Account, len(s.accounts)),
		bills:    make(map[string]domain.Bill, len(s.bills)),
		billKeys: make(map[string]string, len(s.billKeys)),
		items:    make(map[string]storedItem, len(s.items)),
		seq:      s.seq,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.bills {
		c.bills[k] = v
	}
	for k, v := range s.billKeys {
		c.billKeys[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	return c
}

// Option configures a Store.
type Option func(*Store)

// WithItemInsertHook runs fn before every line item insert; a non-nil error
// aborts the insert and, with it, the surrounding transaction.
func WithItemInsertHook(fn func(domain.LineItem) error) Option {
	return func(s *Store) { s.insertHook = fn }
}

// Store is an in-memory port.BillingStore.
type Store struct {
	mu         sync.RWMutex
	st         *state
	insertHook func(domain.LineItem) error
}

var _ port.BillingStore = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{st: newState()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PutAccount creates or replaces an account. Used for seeding.
func (s *Store) PutAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.st.accounts[a.ID] = a
}

// WithinTx runs fn holding the store lock. On error or panic the state from
// before the call is restored.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.BillingTx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		}
		if err != nil {
			s.st = snapshot
		}
	}()

	if err = fn(ctx, &tx{s: s}); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.account(accountID)
}

func (s *Store) ListBills(_ context.Context, accountID string) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listBills(accountID, nil), nil
}

func (s *Store) GetBillByMonth(_ context.Context, accountID string, month time.Time) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.st.billKeys[billKey(accountID, month)]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "bill", ID: accountID + "/" + month.Format(domain.MonthLayout)}
	}
	b := s.st.bills[id]
	return &b, nil
}

func (s *Store) ListBillItems(_ context.Context, billID string) ([]domain.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.billItems(billID), nil
}

func (s *Store) ListAccountIDs(_ context.Context, accountType domain.AccountType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, a := range s.st.accounts {
		if a.Type == accountType {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Ping(context.Context) error { return nil }

// ============================================================
// State helpers (caller holds the lock)
// ============================================================

func billKey(accountID string, month time.Time) string {
	return accountID + "|" + month.Format(domain.MonthLayout)
}

func (st *state) account(id string) (*domain.Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return nil, &domain.ErrAccountNotFound{AccountID: id}
	}
	return &a, nil
}

func (st *state) listBills(accountID string, keep func(domain.Bill) bool) []domain.Bill {
	var out []domain.Bill
	for _, b := range st.bills {
		if b.AccountID != accountID {
			continue
		}
		if keep != nil && !keep(b) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReferenceMonth.Before(out[j].ReferenceMonth)
	})
	return out
}

func (st *state) billItems(billID string) []domain.LineItem {
	var stored []storedItem
	for _, si := range st.items {
		if si.item.BillID != nil && *si.item.BillID == billID {
			stored = append(stored, si)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		if !stored[i].item.PostedAt.Equal(stored[j].item.PostedAt) {
			return stored[i].item.PostedAt.Before(stored[j].item.PostedAt)
		}
		return stored[i].seq < stored[j].seq
	})

	out := make([]domain.LineItem, len(stored))
	for i := range stored {
		out[i] = stored[i].item
	}
	return out
}

// ============================================================
// Transaction
// ============================================================

type tx struct {
	s *Store
}

func (t *tx) st() *state { return t.s.st }

func (t *tx) LockAccount(_ context.Context, accountID string) (*domain.Account, error) {
	return t.st().account(accountID)
}

func (t *tx) UpdateAvailableLimit(_ context.Context, accountID string, availableCents int64) error {
	a, ok := t.st().accounts[accountID]
	if !ok {
		return &domain.ErrAccountNotFound{AccountID: accountID}
	}
	a.AvailableLimitCents = availableCents
	a.UpdatedAt = time.Now().UTC()
	t.st().accounts[accountID] = a
	return nil
}

func (t *tx) EnsureBill(_ context.Context, bill *domain.Bill) (*domain.Bill, bool, error) {
	key := billKey(bill.AccountID, bill.ReferenceMonth)
	if id, ok := t.st().billKeys[key]; ok {
		b := t.st().bills[id]
		return &b, false, nil
	}
	if _, ok := t.st().accounts[bill.AccountID]; !ok {
		return nil, false, &domain.ErrAccountNotFound{AccountID: bill.AccountID}
	}

	b := *bill
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	t.st().bills[b.ID] = b
	t.st().billKeys[key] = b.ID
	return &b, true, nil
}

func (t *tx) LockBill(_ context.Context, billID string) (*domain.Bill, error) {
	b, ok := t.st().bills[billID]
	if !ok {
		return nil, &domain.ErrBillNotFound{BillID: billID}
	}
	return &b, nil
}

func (t *tx) LockOutstandingBills(_ context.Context, accountID string) ([]domain.Bill, error) {
	bills := t.st().listBills(accountID, func(b domain.Bill) bool {
		return b.Status != domain.BillPaid
	})
	sort.SliceStable(bills, func(i, j int) bool {
		if !bills[i].DueDate.Equal(bills[j].DueDate) {
			return bills[i].DueDate.Before(bills[j].DueDate)
		}
		return bills[i].ReferenceMonth.Before(bills[j].ReferenceMonth)
	})
	return bills, nil
}

func (t *tx) ListBills(_ context.Context, accountID string) ([]domain.Bill, error) {
	return t.st().listBills(accountID, nil), nil
}

func (t *tx) updateBill(billID string, fn func(*domain.Bill)) error {
	b, ok := t.st().bills[billID]
	if !ok {
		return &domain.ErrBillNotFound{BillID: billID}
	}
	fn(&b)
	b.UpdatedAt = time.Now().UTC()
	t.st().bills[billID] = b
	return nil
}

func (t *tx) UpdateBillTotals(_ context.Context, billID string, totalCents, minimumCents int64) error {
	return t.updateBill(billID, func(b *domain.Bill) {
		b.TotalCents = totalCents
		b.MinimumPaymentCents = minimumCents
	})
}

func (t *tx) UpdateBillPayment(_ context.Context, billID string, paidCents int64, status domain.BillStatus) error {
	return t.updateBill(billID, func(b *domain.Bill) {
		b.PaidCents = paidCents
		b.Status = status
	})
}

func (t *tx) UpdateBillStatus(_ context.Context, billID string, status domain.BillStatus) error {
	return t.updateBill(billID, func(b *domain.Bill) {
		b.Status = status
	})
}

func (t *tx) InsertLineItem(_ context.Context, item *domain.LineItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if t.s.insertHook != nil {
		if err := t.s.insertHook(*item); err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}
	if item.BillID != nil {
		if _, ok := t.st().bills[*item.BillID]; !ok {
			return &domain.ErrBillNotFound{BillID: *item.BillID}
		}
	}
	if item.InstallmentParentID != nil {
		if _, ok := t.st().items[*item.InstallmentParentID]; !ok {
			return &domain.ErrNotFound{Resource: "line_item", ID: *item.InstallmentParentID}
		}
	}

	t.st().seq++
	t.st().items[item.ID] = storedItem{item: *item, seq: t.st().seq}
	return nil
}

func (t *tx) GetLineItem(_ context.Context, itemID string) (*domain.LineItem, error) {
	si, ok := t.st().items[itemID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "line_item", ID: itemID}
	}
	item := si.item
	return &item, nil
}

func (t *tx) ListChain(_ context.Context, parentID string) ([]domain.LineItem, error) {
	var stored []storedItem
	for _, si := range t.st().items {
		if si.item.ID == parentID || (si.item.InstallmentParentID != nil && *si.item.InstallmentParentID == parentID) {
			stored = append(stored, si)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		if stored[i].item.InstallmentNumber != stored[j].item.InstallmentNumber {
			return stored[i].item.InstallmentNumber < stored[j].item.InstallmentNumber
		}
		return stored[i].seq < stored[j].seq
	})

	out := make([]domain.LineItem, len(stored))
	for i := range stored {
		out[i] = stored[i].item
	}
	return out, nil
}

func (t *tx) ListBillItems(_ context.Context, billID string) ([]domain.LineItem, error) {
	return t.st().billItems(billID), nil
}

// DeleteLineItems removes the given items. Like the foreign key in the SQL
// schema, it refuses to orphan installments whose parent is being removed.
func (t *tx) DeleteLineItems(_ context.Context, itemIDs []string) error {
	del := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		if _, ok := t.st().items[id]; !ok {
			return &domain.ErrNotFound{Resource: "line_item", ID: id}
		}
		del[id] = true
	}
	for id, si := range t.st().items {
		if del[id] || si.item.InstallmentParentID == nil {
			continue
		}
		if del[*si.item.InstallmentParentID] {
			return &domain.ErrConflict{Message: fmt.Sprintf("line item %s still has installments", *si.item.InstallmentParentID)}
		}
	}
	for id := range del {
		delete(t.st().items, id)
	}
	return nil
}
