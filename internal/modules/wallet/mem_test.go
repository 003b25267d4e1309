package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/types"
)

// memStore is an in-memory Repository with the same all-or-nothing Post semantics as Store.
type memStore struct {
	mu      sync.Mutex
	wallets map[types.ID]*Wallet
	byOwner map[types.ID]types.ID
	txs     []*Transaction
}

func newMemStore() *memStore {
	return &memStore{wallets: map[types.ID]*Wallet{}, byOwner: map[types.ID]types.ID{}}
}

func (m *memStore) EnsureWallet(ctx context.Context, ownerID types.ID, ownerType OwnerType) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byOwner[ownerID]; ok {
		w := *m.wallets[id]
		return &w, nil
	}
	now := time.Now()
	w := &Wallet{ID: types.NewID(), OwnerID: ownerID, OwnerType: ownerType, CreatedAt: now, UpdatedAt: now}
	m.wallets[w.ID] = w
	m.byOwner[ownerID] = w.ID
	cp := *w
	return &cp, nil
}

func (m *memStore) Get(ctx context.Context, id types.ID) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) GetByOwner(ctx context.Context, ownerID types.ID) (*Wallet, error) {
	m.mu.Lock()
	id, ok := m.byOwner[ownerID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *memStore) Post(ctx context.Context, postings []Posting) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := map[types.ID]decimal.Decimal{}
	for _, p := range postings {
		if m.hasReference(p.WalletID, p.Reference) {
			return nil, ErrDuplicateReference
		}
		w, ok := m.wallets[p.WalletID]
		if !ok {
			return nil, ErrNotFound
		}
		bal, seen := next[p.WalletID]
		if !seen {
			bal = w.Balance
		}
		bal = bal.Add(p.Amount)
		if bal.IsNegative() {
			return nil, ErrInsufficientBalance
		}
		next[p.WalletID] = bal
	}

	now := time.Now()
	out := make([]Transaction, 0, len(postings))
	running := map[types.ID]decimal.Decimal{}
	for _, p := range postings {
		bal, seen := running[p.WalletID]
		if !seen {
			bal = m.wallets[p.WalletID].Balance
		}
		bal = bal.Add(p.Amount)
		running[p.WalletID] = bal
		t := &Transaction{
			ID: types.NewID(), WalletID: p.WalletID, OrderID: p.OrderID, Amount: p.Amount,
			BalanceAfter: decimal.NewNullDecimal(bal), Type: p.Type, Status: TxSuccess,
			Reference: p.Reference, Description: p.Description, TransactionDate: now, CompletedAt: &now,
		}
		m.txs = append(m.txs, t)
		out = append(out, *t)
	}
	for id, bal := range next {
		m.wallets[id].Balance = bal
		m.wallets[id].UpdatedAt = now
	}
	return out, nil
}

func (m *memStore) InsertPending(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[t.WalletID]; !ok {
		return ErrNotFound
	}
	if t.Status != TxFailed && m.hasReference(t.WalletID, t.Reference) {
		return ErrDuplicateReference
	}
	cp := *t
	m.txs = append(m.txs, &cp)
	return nil
}

// hasReference mirrors the partial unique index on (wallet_id, reference).
func (m *memStore) hasReference(walletID types.ID, ref string) bool {
	if ref == "" {
		return false
	}
	for _, t := range m.txs {
		if t.WalletID == walletID && t.Reference == ref && t.Status != TxFailed {
			return true
		}
	}
	return false
}

func (m *memStore) find(id types.ID) *Transaction {
	for _, t := range m.txs {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *memStore) Complete(ctx context.Context, txID types.ID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(txID)
	if t == nil {
		return nil, ErrNotFound
	}
	if t.Status != TxPending {
		return nil, ErrInvalidState
	}
	w := m.wallets[t.WalletID]
	bal := w.Balance.Add(t.Amount)
	if bal.IsNegative() {
		return nil, ErrInsufficientBalance
	}
	w.Balance = bal
	now := time.Now()
	t.Status, t.BalanceAfter, t.CompletedAt = TxSuccess, decimal.NewNullDecimal(bal), &now
	cp := *t
	return &cp, nil
}

func (m *memStore) Fail(ctx context.Context, txID types.ID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(txID)
	if t == nil {
		return nil, ErrNotFound
	}
	if t.Status != TxPending {
		return nil, ErrInvalidState
	}
	now := time.Now()
	t.Status, t.CompletedAt = TxFailed, &now
	cp := *t
	return &cp, nil
}

func (m *memStore) ListTransactions(ctx context.Context, walletID types.ID, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for i := len(m.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txs[i].WalletID == walletID {
			out = append(out, *m.txs[i])
		}
	}
	return out, nil
}

func (m *memStore) ListByOrder(ctx context.Context, orderID types.ID) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, t := range m.txs {
		if t.OrderID != nil && *t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) LedgerSum(ctx context.Context, walletID types.ID) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return decimal.Zero, decimal.Zero, ErrNotFound
	}
	sum := decimal.Zero
	for _, t := range m.txs {
		if t.WalletID == walletID && t.Status == TxSuccess {
			sum = sum.Add(t.Amount)
		}
	}
	return w.Balance, sum, nil
}
