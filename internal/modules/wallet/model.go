// README: Wallet ledger model (wallets, append-only transactions, postings).
package wallet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/types"
)

type OwnerType string

const (
	OwnerCustomer   OwnerType = "CUSTOMER"
	OwnerRestaurant OwnerType = "RESTAURANT"
	OwnerDriver     OwnerType = "DRIVER"
	OwnerPlatform   OwnerType = "PLATFORM"
)

// PlatformOwnerID owns the single platform wallet.
const PlatformOwnerID types.ID = "platform"

type TxType string

const (
	TxPayment         TxType = "PAYMENT"
	TxRefund          TxType = "REFUND"
	TxDeposit         TxType = "DEPOSIT"
	TxWithdrawal      TxType = "WITHDRAWAL"
	TxCODReceived     TxType = "COD_RECEIVED"
	TxCODRemittance   TxType = "COD_REMITTANCE"
	TxPaymentReceived TxType = "PAYMENT_RECEIVED"
	TxGatewayReceived TxType = "GATEWAY_RECEIVED"
	TxEarning         TxType = "EARNING"
	TxPayout          TxType = "PAYOUT"
)

type TxStatus string

const (
	TxPending TxStatus = "PENDING"
	TxSuccess TxStatus = "SUCCESS"
	TxFailed  TxStatus = "FAILED"
)

var (
	ErrNotFound            = fmt.Errorf("wallet: %w", types.ErrReferenceNotFound)
	ErrInsufficientBalance = fmt.Errorf("wallet: insufficient balance: %w", types.ErrInsufficientFunds)
	ErrBadRequest          = fmt.Errorf("wallet: %w", types.ErrValidation)
	ErrInvalidState        = fmt.Errorf("wallet transaction: %w", types.ErrInvalidStateTransition)
	// ErrDuplicateReference: the wallet already holds a live entry with this reference.
	ErrDuplicateReference = fmt.Errorf("wallet: duplicate reference: %w", types.ErrAlreadyExists)
)

type Wallet struct {
	ID        types.ID        `json:"id"`
	OwnerID   types.ID        `json:"owner_id"`
	OwnerType OwnerType       `json:"owner_type"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is an immutable ledger line. Only Status (PENDING to SUCCESS/FAILED),
// BalanceAfter and CompletedAt change, and only once.
type Transaction struct {
	ID              types.ID            `json:"id"`
	WalletID        types.ID            `json:"wallet_id"`
	OrderID         *types.ID           `json:"order_id,omitempty"`
	Amount          decimal.Decimal     `json:"amount"`
	BalanceAfter    decimal.NullDecimal `json:"balance_after"`
	Type            TxType              `json:"transaction_type"`
	Status          TxStatus            `json:"status"`
	Reference       string              `json:"reference,omitempty"`
	Description     string              `json:"description,omitempty"`
	TransactionDate time.Time           `json:"transaction_date"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

// Posting is one signed balance change applied with status SUCCESS.
type Posting struct {
	WalletID    types.ID
	OrderID     *types.ID
	Amount      decimal.Decimal
	Type        TxType
	Reference   string
	Description string
}

type CreateTransactionCommand struct {
	WalletID    types.ID
	OrderID     *types.ID
	Amount      decimal.Decimal
	Type        TxType
	Status      TxStatus
	Reference   string
	Description string
}

// TransferCommand moves Amount between two wallets as a debit/credit pair in one unit.
type TransferCommand struct {
	FromWalletID types.ID
	ToWalletID   types.ID
	Amount       decimal.Decimal
	OrderID      *types.ID
	DebitType    TxType
	CreditType   TxType
	Reference    string
	Description  string
}

type ReconcileReport struct {
	WalletID   types.ID        `json:"wallet_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Drift      decimal.Decimal `json:"drift"`
	Consistent bool            `json:"consistent"`
}
