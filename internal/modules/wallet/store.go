// README: Wallet ledger store backed by PostgreSQL (guarded increments, locked transfers).
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"platter/internal/types"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const walletColumns = `id, owner_id, owner_type, balance, created_at, updated_at`

const txColumns = `id, wallet_id, order_id, amount, balance_after, transaction_type,
	status, reference, description, transaction_date, completed_at`

// EnsureWallet returns the owner's wallet, creating it on first use.
func (s *Store) EnsureWallet(ctx context.Context, ownerID types.ID, ownerType OwnerType) (*Wallet, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, owner_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO NOTHING`,
		string(types.NewID()), string(ownerID), string(ownerType),
	)
	if err != nil {
		return nil, err
	}
	return s.GetByOwner(ctx, ownerID)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, string(id))
	return scanWallet(row)
}

func (s *Store) GetByOwner(ctx context.Context, ownerID types.ID) (*Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, string(ownerID))
	return scanWallet(row)
}

// Post applies every posting as a SUCCESS transaction in one database transaction.
// Wallet rows are locked in id order first so concurrent transfers cannot deadlock.
func (s *Store) Post(ctx context.Context, postings []Posting) ([]Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockWallets(ctx, tx, postings); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]Transaction, 0, len(postings))
	for _, p := range postings {
		balance, err := applyDelta(ctx, tx, p.WalletID, p.Amount, now)
		if err != nil {
			return nil, err
		}
		t := Transaction{
			ID:              types.NewID(),
			WalletID:        p.WalletID,
			OrderID:         p.OrderID,
			Amount:          p.Amount,
			BalanceAfter:    decimal.NewNullDecimal(balance),
			Type:            p.Type,
			Status:          TxSuccess,
			Reference:       p.Reference,
			Description:     p.Description,
			TransactionDate: now,
			CompletedAt:     &now,
		}
		if err := insertTx(ctx, tx, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertPending records a PENDING or FAILED transaction without touching the balance.
func (s *Store) InsertPending(ctx context.Context, t *Transaction) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, string(t.WalletID)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return insertTx(ctx, s.db, t)
}

// Complete moves a PENDING transaction to SUCCESS and applies its amount.
func (s *Store) Complete(ctx context.Context, txID types.ID) (*Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTx(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE id = $1 FOR UPDATE`, string(txID)))
	if err != nil {
		return nil, err
	}
	if t.Status != TxPending {
		return nil, ErrInvalidState
	}

	now := time.Now()
	balance, err := applyDelta(ctx, tx, t.WalletID, t.Amount, now)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = $1, balance_after = $2, completed_at = $3
		WHERE id = $4`,
		string(TxSuccess), balance, now, string(txID),
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	t.Status = TxSuccess
	t.BalanceAfter = decimal.NewNullDecimal(balance)
	t.CompletedAt = &now
	return t, nil
}

// Fail moves a PENDING transaction to FAILED.
func (s *Store) Fail(ctx context.Context, txID types.ID) (*Transaction, error) {
	now := time.Now()
	tag, err := s.db.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4`,
		string(TxFailed), now, string(txID), string(TxPending),
	)
	if err != nil {
		return nil, err
	}
	t, err := scanTx(s.db.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE id = $1`, string(txID)))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrInvalidState
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, walletID types.ID, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY transaction_date DESC, id
		LIMIT $2`, string(walletID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ListByOrder(ctx context.Context, orderID types.ID) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM wallet_transactions
		WHERE order_id = $1
		ORDER BY transaction_date, id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// LedgerSum returns the balance and the sum of SUCCESS amounts read in one snapshot.
func (s *Store) LedgerSum(ctx context.Context, walletID types.ID) (decimal.Decimal, decimal.Decimal, error) {
	var balance, sum decimal.Decimal
	err := s.db.QueryRow(ctx, `
		SELECT w.balance,
		       COALESCE((SELECT SUM(amount) FROM wallet_transactions
		                 WHERE wallet_id = w.id AND status = 'SUCCESS'), 0)
		FROM wallets w
		WHERE w.id = $1`, string(walletID)).Scan(&balance, &sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, decimal.Zero, ErrNotFound
	}
	return balance, sum, err
}

func lockWallets(ctx context.Context, tx pgx.Tx, postings []Posting) error {
	seen := make(map[types.ID]struct{}, len(postings))
	ids := make([]string, 0, len(postings))
	for _, p := range postings {
		if _, ok := seen[p.WalletID]; ok {
			continue
		}
		seen[p.WalletID] = struct{}{}
		ids = append(ids, string(p.WalletID))
	}
	sort.Strings(ids)
	for _, id := range ids {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// applyDelta adds delta to the wallet balance unless the result would be negative.
func applyDelta(ctx context.Context, tx pgx.Tx, walletID types.ID, delta decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $1, updated_at = $2
		WHERE id = $3 AND balance + $1 >= 0
		RETURNING balance`,
		delta, now, string(walletID),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// rows are locked by the caller, so absence means the guard failed
		return decimal.Zero, ErrInsufficientBalance
	}
	return balance, err
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTx(ctx context.Context, db execer, t *Transaction) error {
	_, err := db.Exec(ctx, `
		INSERT INTO wallet_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(t.ID),
		string(t.WalletID),
		toStringPtr(t.OrderID),
		t.Amount,
		t.BalanceAfter,
		string(t.Type),
		string(t.Status),
		t.Reference,
		t.Description,
		t.TransactionDate,
		t.CompletedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrNotFound)
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", t.Reference, ErrDuplicateReference)
		}
	}
	return err
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.OwnerType, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTx(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var orderID *string
	err := row.Scan(
		&t.ID, &t.WalletID, &orderID, &t.Amount, &t.BalanceAfter, &t.Type,
		&t.Status, &t.Reference, &t.Description, &t.TransactionDate, &t.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if orderID != nil {
		id := types.ID(*orderID)
		t.OrderID = &id
	}
	return &t, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
