package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/modules/catalog"
	"platter/internal/modules/order"
	"platter/internal/modules/wallet"
	"platter/internal/types"
)

type memSummaries struct {
	mu   sync.Mutex
	rows map[types.ID]EarningsSummary
}

func newMemSummaries() *memSummaries {
	return &memSummaries{rows: map[types.ID]EarningsSummary{}}
}

func (m *memSummaries) Insert(ctx context.Context, e *EarningsSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[e.OrderID]; ok {
		return ErrAlreadyExists
	}
	e.CreatedAt = time.Now()
	m.rows[e.OrderID] = *e
	return nil
}

func (m *memSummaries) Get(ctx context.Context, orderID types.ID) (*EarningsSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *memSummaries) MarkPaidOut(ctx context.Context, orderID types.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[orderID]
	if !ok {
		return ErrNotFound
	}
	if e.PaidOutAt == nil {
		e.PaidOutAt = &at
		m.rows[orderID] = e
	}
	return nil
}

func (m *memSummaries) Exists(ctx context.Context, orderID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[orderID]
	return ok, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[types.ID]*order.Order
	// beforeMarkPaid runs outside the lock, letting a test interleave another write.
	beforeMarkPaid func(id types.ID)
}

func newMemOrders(orders ...*order.Order) *memOrders {
	m := &memOrders{orders: map[types.ID]*order.Order{}}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) Get(ctx context.Context, id types.ID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) MarkPaid(ctx context.Context, id types.ID) (bool, error) {
	if m.beforeMarkPaid != nil {
		m.beforeMarkPaid(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus == order.PaymentPaid {
		return false, nil
	}
	o.PaymentStatus = order.PaymentPaid
	return true, nil
}

func (m *memOrders) DeleteAbandoned(ctx context.Context, id types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentMethod != order.PaymentGateway || o.PaymentStatus != order.PaymentUnpaid {
		return false, nil
	}
	delete(m.orders, id)
	return true, nil
}

func (m *memOrders) setStatus(id types.ID, st order.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].Status = st
}

func (m *memOrders) status(id types.ID) (order.PaymentStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return "", false
	}
	return o.PaymentStatus, true
}

type fakeCatalog struct {
	restaurantRate decimal.NullDecimal
	driverLimit    decimal.NullDecimal
}

func (f fakeCatalog) Restaurant(ctx context.Context, id types.ID) (*catalog.Restaurant, error) {
	if id != "r1" {
		return nil, catalog.ErrNotFound
	}
	return &catalog.Restaurant{ID: id, OwnerID: "owner1", CommissionRate: f.restaurantRate}, nil
}

func (f fakeCatalog) Driver(ctx context.Context, id types.ID) (*catalog.Driver, error) {
	if id != "d1" {
		return nil, catalog.ErrNotFound
	}
	return &catalog.Driver{ID: id, Status: catalog.DriverBusy, CODLimit: f.driverLimit}, nil
}

type staticConfig map[string]decimal.Decimal

func (c staticConfig) Decimal(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// memLedger keeps balances and SUCCESS entries under one lock, so every transfer is atomic.
type memLedger struct {
	mu      sync.Mutex
	byOwner map[types.ID]*wallet.Wallet
	byID    map[types.ID]*wallet.Wallet
	txs     []wallet.Transaction
	// failCreate, when set, is returned by the next CreateTransaction.
	failCreate error
}

func newMemLedger() *memLedger {
	return &memLedger{byOwner: map[types.ID]*wallet.Wallet{}, byID: map[types.ID]*wallet.Wallet{}}
}

func (l *memLedger) EnsureWallet(ctx context.Context, ownerID types.ID, ownerType wallet.OwnerType) (*wallet.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.byOwner[ownerID]; ok {
		cp := *w
		return &cp, nil
	}
	w := &wallet.Wallet{ID: types.ID("w-" + string(ownerID)), OwnerID: ownerID, OwnerType: ownerType, Balance: decimal.Zero}
	l.byOwner[ownerID] = w
	l.byID[w.ID] = w
	cp := *w
	return &cp, nil
}

func (l *memLedger) PlatformWallet(ctx context.Context) (*wallet.Wallet, error) {
	return l.EnsureWallet(ctx, wallet.PlatformOwnerID, wallet.OwnerPlatform)
}

func (l *memLedger) Transfer(ctx context.Context, cmd wallet.TransferCommand) ([]wallet.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, ok := l.byID[cmd.FromWalletID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	to, ok := l.byID[cmd.ToWalletID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	if l.hasReference(from.ID, cmd.Reference) || l.hasReference(to.ID, cmd.Reference) {
		return nil, wallet.ErrDuplicateReference
	}
	if from.Balance.LessThan(cmd.Amount) {
		return nil, wallet.ErrInsufficientBalance
	}
	from.Balance = from.Balance.Sub(cmd.Amount)
	to.Balance = to.Balance.Add(cmd.Amount)
	debit := l.record(from, cmd.OrderID, cmd.Amount.Neg(), cmd.DebitType, cmd.Reference)
	credit := l.record(to, cmd.OrderID, cmd.Amount, cmd.CreditType, cmd.Reference)
	return []wallet.Transaction{debit, credit}, nil
}

func (l *memLedger) CreateTransaction(ctx context.Context, cmd wallet.CreateTransactionCommand) (*wallet.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failCreate; err != nil {
		l.failCreate = nil
		return nil, err
	}
	w, ok := l.byID[cmd.WalletID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	if l.hasReference(w.ID, cmd.Reference) {
		return nil, wallet.ErrDuplicateReference
	}
	if w.Balance.Add(cmd.Amount).IsNegative() {
		return nil, wallet.ErrInsufficientBalance
	}
	w.Balance = w.Balance.Add(cmd.Amount)
	t := l.record(w, cmd.OrderID, cmd.Amount, cmd.Type, cmd.Reference)
	return &t, nil
}

func (l *memLedger) OrderTransactions(ctx context.Context, orderID types.ID) ([]wallet.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []wallet.Transaction
	for _, t := range l.txs {
		if t.OrderID != nil && *t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l *memLedger) hasReference(walletID types.ID, ref string) bool {
	if ref == "" {
		return false
	}
	for _, t := range l.txs {
		if t.WalletID == walletID && t.Reference == ref {
			return true
		}
	}
	return false
}

// entries returns the SUCCESS entries of owner's wallet carrying ref.
func (l *memLedger) entries(owner types.ID, ref string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.byOwner[owner]
	if !ok {
		return 0
	}
	n := 0
	for _, t := range l.txs {
		if t.WalletID == w.ID && t.Reference == ref {
			n++
		}
	}
	return n
}

func (l *memLedger) record(w *wallet.Wallet, orderID *types.ID, amount decimal.Decimal, typ wallet.TxType, ref string) wallet.Transaction {
	t := wallet.Transaction{
		ID:              types.NewID(),
		WalletID:        w.ID,
		OrderID:         orderID,
		Amount:          amount,
		BalanceAfter:    decimal.NewNullDecimal(w.Balance),
		Type:            typ,
		Status:          wallet.TxSuccess,
		Reference:       ref,
		TransactionDate: time.Now(),
	}
	l.txs = append(l.txs, t)
	return t
}

func (l *memLedger) deposit(owner types.ID, typ wallet.OwnerType, amount int64) {
	w, _ := l.EnsureWallet(context.Background(), owner, typ)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[w.ID].Balance = l.byID[w.ID].Balance.Add(decimal.NewFromInt(amount))
	l.record(l.byID[w.ID], nil, decimal.NewFromInt(amount), wallet.TxDeposit, "")
}

func (l *memLedger) balance(owner types.ID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.byOwner[owner]
	if !ok {
		return decimal.Zero
	}
	return w.Balance
}

// ledgerSum is the sum of SUCCESS entries for owner's wallet.
func (l *memLedger) ledgerSum(owner types.ID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.byOwner[owner]
	if !ok {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, t := range l.txs {
		if t.WalletID == w.ID && t.Status == wallet.TxSuccess {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}
