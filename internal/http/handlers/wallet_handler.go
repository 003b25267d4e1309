// README: Wallet handlers (balance lookup, deposit, withdraw).
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"platter/internal/modules/wallet"
	"platter/internal/types"
)

const recentTransactions = 20

type WalletService interface {
	EnsureWallet(ctx context.Context, ownerID types.ID, ownerType wallet.OwnerType) (*wallet.Wallet, error)
	GetByOwner(ctx context.Context, ownerID types.ID) (*wallet.Wallet, error)
	Deposit(ctx context.Context, walletID types.ID, amount decimal.Decimal) (*wallet.Transaction, error)
	Withdraw(ctx context.Context, walletID types.ID, amount decimal.Decimal) (*wallet.Transaction, error)
	Transactions(ctx context.Context, walletID types.ID, limit int) ([]wallet.Transaction, error)
}

type WalletHandler struct {
	wallet WalletService
}

func NewWalletHandler(svc WalletService) *WalletHandler {
	return &WalletHandler{wallet: svc}
}

func (h *WalletHandler) Get(c *gin.Context) {
	owner, ok := pathID(c, "owner")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	w, err := h.wallet.GetByOwner(ctx, owner)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	txs, err := h.wallet.Transactions(ctx, w.ID, recentTransactions)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"wallet": w, "transactions": txs})
}

type depositReq struct {
	Amount    decimal.Decimal `json:"amount"`
	OwnerType string          `json:"owner_type"`
}

// Deposit creates the owner's wallet on first use; owner_type defaults to CUSTOMER.
func (h *WalletHandler) Deposit(c *gin.Context) {
	owner, ok := pathID(c, "owner")
	if !ok {
		return
	}
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ownerType := wallet.OwnerType(req.OwnerType)
	if ownerType == "" {
		ownerType = wallet.OwnerCustomer
	}
	ctx := c.Request.Context()
	w, err := h.wallet.EnsureWallet(ctx, owner, ownerType)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	tx, err := h.wallet.Deposit(ctx, w.ID, req.Amount)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, tx)
}

type withdrawReq struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *WalletHandler) Withdraw(c *gin.Context) {
	owner, ok := pathID(c, "owner")
	if !ok {
		return
	}
	var req withdrawReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	w, err := h.wallet.GetByOwner(ctx, owner)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	tx, err := h.wallet.Withdraw(ctx, w.ID, req.Amount)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, tx)
}
