// README: Wallet ledger service; the single authority for balance mutation.
package wallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/types"
)

type Repository interface {
	EnsureWallet(ctx context.Context, ownerID types.ID, ownerType OwnerType) (*Wallet, error)
	Get(ctx context.Context, id types.ID) (*Wallet, error)
	GetByOwner(ctx context.Context, ownerID types.ID) (*Wallet, error)
	Post(ctx context.Context, postings []Posting) ([]Transaction, error)
	InsertPending(ctx context.Context, t *Transaction) error
	Complete(ctx context.Context, txID types.ID) (*Transaction, error)
	Fail(ctx context.Context, txID types.ID) (*Transaction, error)
	ListTransactions(ctx context.Context, walletID types.ID, limit int) ([]Transaction, error)
	ListByOrder(ctx context.Context, orderID types.ID) ([]Transaction, error)
	LedgerSum(ctx context.Context, walletID types.ID) (balance, sum decimal.Decimal, err error)
}

type Service struct {
	store Repository
	log   *slog.Logger
}

func NewService(store Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

func (s *Service) EnsureWallet(ctx context.Context, ownerID types.ID, ownerType OwnerType) (*Wallet, error) {
	if ownerID == "" || ownerType == "" {
		return nil, ErrBadRequest
	}
	return s.store.EnsureWallet(ctx, ownerID, ownerType)
}

func (s *Service) PlatformWallet(ctx context.Context) (*Wallet, error) {
	return s.store.EnsureWallet(ctx, PlatformOwnerID, OwnerPlatform)
}

func (s *Service) Get(ctx context.Context, walletID types.ID) (*Wallet, error) {
	return s.store.Get(ctx, walletID)
}

func (s *Service) GetByOwner(ctx context.Context, ownerID types.ID) (*Wallet, error) {
	return s.store.GetByOwner(ctx, ownerID)
}

func (s *Service) Deposit(ctx context.Context, walletID types.ID, amount decimal.Decimal) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrBadRequest
	}
	return s.postOne(ctx, Posting{WalletID: walletID, Amount: amount, Type: TxDeposit, Description: "deposit"})
}

// Withdraw fails with ErrInsufficientBalance, leaving the balance untouched, when amount exceeds it.
func (s *Service) Withdraw(ctx context.Context, walletID types.ID, amount decimal.Decimal) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrBadRequest
	}
	return s.postOne(ctx, Posting{WalletID: walletID, Amount: amount.Neg(), Type: TxWithdrawal, Description: "withdrawal"})
}

// RecordPayment writes a negative PAYMENT entry against the payer.
func (s *Service) RecordPayment(ctx context.Context, walletID types.ID, amount decimal.Decimal, orderID types.ID) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrBadRequest
	}
	return s.postOne(ctx, Posting{WalletID: walletID, OrderID: &orderID, Amount: amount.Neg(), Type: TxPayment})
}

// RecordReceipt writes a positive PAYMENT_RECEIVED entry for the payee.
func (s *Service) RecordReceipt(ctx context.Context, walletID types.ID, amount decimal.Decimal, orderID types.ID) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrBadRequest
	}
	return s.postOne(ctx, Posting{WalletID: walletID, OrderID: &orderID, Amount: amount, Type: TxPaymentReceived})
}

// CreateTransaction records an entry. Only SUCCESS entries move the balance;
// PENDING ones wait for CompleteTransaction.
func (s *Service) CreateTransaction(ctx context.Context, cmd CreateTransactionCommand) (*Transaction, error) {
	if cmd.WalletID == "" || cmd.Type == "" || cmd.Amount.IsZero() {
		return nil, ErrBadRequest
	}
	switch cmd.Status {
	case TxSuccess:
		return s.postOne(ctx, Posting{
			WalletID:    cmd.WalletID,
			OrderID:     cmd.OrderID,
			Amount:      cmd.Amount,
			Type:        cmd.Type,
			Reference:   cmd.Reference,
			Description: cmd.Description,
		})
	case TxPending, TxFailed:
		t := &Transaction{
			ID:              types.NewID(),
			WalletID:        cmd.WalletID,
			OrderID:         cmd.OrderID,
			Amount:          cmd.Amount,
			Type:            cmd.Type,
			Status:          cmd.Status,
			Reference:       cmd.Reference,
			Description:     cmd.Description,
			TransactionDate: time.Now(),
		}
		if cmd.Status == TxFailed {
			t.CompletedAt = &t.TransactionDate
		}
		if err := s.store.InsertPending(ctx, t); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, ErrBadRequest
	}
}

func (s *Service) CompleteTransaction(ctx context.Context, txID types.ID) (*Transaction, error) {
	return s.store.Complete(ctx, txID)
}

func (s *Service) FailTransaction(ctx context.Context, txID types.ID) (*Transaction, error) {
	return s.store.Fail(ctx, txID)
}

// Transfer debits one wallet and credits another atomically. Either both entries
// are recorded or neither is.
func (s *Service) Transfer(ctx context.Context, cmd TransferCommand) ([]Transaction, error) {
	if !cmd.Amount.IsPositive() || cmd.FromWalletID == "" || cmd.ToWalletID == "" || cmd.FromWalletID == cmd.ToWalletID {
		return nil, ErrBadRequest
	}
	if cmd.DebitType == "" || cmd.CreditType == "" {
		return nil, ErrBadRequest
	}
	txs, err := s.store.Post(ctx, []Posting{
		{
			WalletID:    cmd.FromWalletID,
			OrderID:     cmd.OrderID,
			Amount:      cmd.Amount.Neg(),
			Type:        cmd.DebitType,
			Reference:   cmd.Reference,
			Description: cmd.Description,
		},
		{
			WalletID:    cmd.ToWalletID,
			OrderID:     cmd.OrderID,
			Amount:      cmd.Amount,
			Type:        cmd.CreditType,
			Reference:   cmd.Reference,
			Description: cmd.Description,
		},
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("wallet transfer", "from", string(cmd.FromWalletID), "to", string(cmd.ToWalletID), "amount", cmd.Amount.String(), "type", string(cmd.DebitType))
	return txs, nil
}

func (s *Service) Transactions(ctx context.Context, walletID types.ID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListTransactions(ctx, walletID, limit)
}

func (s *Service) OrderTransactions(ctx context.Context, orderID types.ID) ([]Transaction, error) {
	return s.store.ListByOrder(ctx, orderID)
}

// Reconcile compares the stored balance with the sum of SUCCESS entries.
func (s *Service) Reconcile(ctx context.Context, walletID types.ID) (ReconcileReport, error) {
	balance, sum, err := s.store.LedgerSum(ctx, walletID)
	if err != nil {
		return ReconcileReport{}, err
	}
	drift := balance.Sub(sum)
	r := ReconcileReport{
		WalletID:   walletID,
		Balance:    balance,
		LedgerSum:  sum,
		Drift:      drift,
		Consistent: drift.IsZero(),
	}
	if !r.Consistent {
		s.log.Error("wallet ledger drift", "wallet_id", string(walletID), "balance", balance.String(), "ledger_sum", sum.String())
	}
	return r, nil
}

func (s *Service) postOne(ctx context.Context, p Posting) (*Transaction, error) {
	txs, err := s.store.Post(ctx, []Posting{p})
	if err != nil {
		return nil, err
	}
	return &txs[0], nil
}
