// README: Settlement engine: commission split, payment capture (wallet, COD, gateway), payouts and refunds.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/modules/catalog"
	"platter/internal/modules/order"
	"platter/internal/modules/sysconfig"
	"platter/internal/modules/wallet"
	"platter/internal/types"
)

type Repository interface {
	Insert(ctx context.Context, e *EarningsSummary) error
	Get(ctx context.Context, orderID types.ID) (*EarningsSummary, error)
	Exists(ctx context.Context, orderID types.ID) (bool, error)
	MarkPaidOut(ctx context.Context, orderID types.ID, at time.Time) error
}

// Orders is the read side of the order service plus the two payment hooks settlement needs.
type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	MarkPaid(ctx context.Context, id types.ID) (bool, error)
	DeleteAbandoned(ctx context.Context, id types.ID) (bool, error)
}

type Catalog interface {
	Restaurant(ctx context.Context, id types.ID) (*catalog.Restaurant, error)
	Driver(ctx context.Context, id types.ID) (*catalog.Driver, error)
}

type Ledger interface {
	EnsureWallet(ctx context.Context, ownerID types.ID, ownerType wallet.OwnerType) (*wallet.Wallet, error)
	PlatformWallet(ctx context.Context) (*wallet.Wallet, error)
	Transfer(ctx context.Context, cmd wallet.TransferCommand) ([]wallet.Transaction, error)
	CreateTransaction(ctx context.Context, cmd wallet.CreateTransactionCommand) (*wallet.Transaction, error)
	OrderTransactions(ctx context.Context, orderID types.ID) ([]wallet.Transaction, error)
}

type Config interface {
	Decimal(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal
}

type Deps struct {
	Store   Repository
	Orders  Orders
	Catalog Catalog
	Ledger  Ledger
	Config  Config
	Gateway *Gateway
	Log     *slog.Logger
}

type Service struct {
	store   Repository
	orders  Orders
	catalog Catalog
	ledger  Ledger
	config  Config
	gateway *Gateway
	log     *slog.Logger
	now     func() time.Time
}

func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Service{
		store:   d.Store,
		orders:  d.Orders,
		catalog: d.Catalog,
		ledger:  d.Ledger,
		config:  d.Config,
		gateway: d.Gateway,
		log:     d.Log,
		now:     time.Now,
	}
}

func (s *Service) HasSummary(ctx context.Context, orderID types.ID) (bool, error) {
	return s.store.Exists(ctx, orderID)
}

func (s *Service) Summary(ctx context.Context, orderID types.ID) (*EarningsSummary, error) {
	return s.store.Get(ctx, orderID)
}

// CreateEarningsSummaryFromOrder records the commission split once; a second call fails with ErrAlreadyExists.
func (s *Service) CreateEarningsSummaryFromOrder(ctx context.Context, orderID types.ID) (*EarningsSummary, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.createSummary(ctx, o)
}

func (s *Service) createSummary(ctx context.Context, o *order.Order) (*EarningsSummary, error) {
	exists, err := s.store.Exists(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}
	restaurantRate, err := s.restaurantRate(ctx, o.RestaurantID)
	if err != nil {
		return nil, err
	}
	driverRate := s.config.Decimal(ctx, sysconfig.KeyDriverCommissionRate, DefaultDriverRate)

	summary := ComputeSplit(o.ID, o.Subtotal, o.DeliveryFee, restaurantRate, driverRate)
	if err := s.store.Insert(ctx, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Service) restaurantRate(ctx context.Context, restaurantID types.ID) (decimal.Decimal, error) {
	r, err := s.catalog.Restaurant(ctx, restaurantID)
	if err != nil {
		return decimal.Zero, err
	}
	if r.CommissionRate.Valid {
		return r.CommissionRate.Decimal, nil
	}
	return s.config.Decimal(ctx, sysconfig.KeyRestaurantCommissionRate, DefaultRestaurantRate), nil
}

// Settle runs once an order is DELIVERED: capture COD cash, record the split, then
// pay the restaurant owner and driver their net earnings out of the platform wallet.
// It is safe to repeat: an unpaid order stops after the split and a later call
// finishes the payout. Returns ErrAlreadyExists once the order is fully paid out.
func (s *Service) Settle(ctx context.Context, o *order.Order) error {
	if o.Status != order.StatusDelivered {
		return fmt.Errorf("settle %s order: %w", o.Status, ErrInvalidState)
	}
	summary, err := s.createSummary(ctx, o)
	switch {
	case errors.Is(err, ErrAlreadyExists):
		summary, err = s.store.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		if summary.PaidOutAt != nil {
			return ErrAlreadyExists
		}
	case err != nil:
		return err
	default:
		s.log.Info("order settled",
			"order_id", string(o.ID),
			"restaurant_net", summary.RestaurantNetEarning.String(),
			"driver_net", summary.DriverNetEarning.String(),
			"platform_total", summary.PlatformTotalEarning.String(),
		)
	}

	paid := o.Paid()
	if o.PaymentMethod == order.PaymentCOD && !paid {
		if err := s.CaptureCOD(ctx, o); err != nil {
			// the janitor retries the capture on its next sweep
			s.log.Error("cod capture failed", "order_id", string(o.ID), "err", err)
		} else {
			paid = true
		}
	}
	if !paid {
		// no money reached the platform, so nothing is paid out yet
		return nil
	}
	if err := s.payout(ctx, o, summary); err != nil {
		return err
	}
	return s.store.MarkPaidOut(ctx, o.ID, s.now())
}

// payout is idempotent per share: each transfer carries a reference the ledger accepts once.
func (s *Service) payout(ctx context.Context, o *order.Order, summary *EarningsSummary) error {
	platform, err := s.ledger.PlatformWallet(ctx)
	if err != nil {
		return err
	}
	var errs []error

	if summary.RestaurantNetEarning.IsPositive() {
		r, err := s.catalog.Restaurant(ctx, o.RestaurantID)
		if err == nil {
			err = s.pay(ctx, platform.ID, r.OwnerID, wallet.OwnerRestaurant, summary.RestaurantNetEarning, o.ID, "restaurant")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restaurant payout: %w", err))
		}
	}
	if o.DriverID != nil && summary.DriverNetEarning.IsPositive() {
		if err := s.pay(ctx, platform.ID, *o.DriverID, wallet.OwnerDriver, summary.DriverNetEarning, o.ID, "driver"); err != nil {
			errs = append(errs, fmt.Errorf("driver payout: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) pay(ctx context.Context, from types.ID, owner types.ID, ownerType wallet.OwnerType, amount decimal.Decimal, orderID types.ID, party string) error {
	w, err := s.ledger.EnsureWallet(ctx, owner, ownerType)
	if err != nil {
		return err
	}
	_, err = s.ledger.Transfer(ctx, wallet.TransferCommand{
		FromWalletID: from,
		ToWalletID:   w.ID,
		Amount:       amount,
		OrderID:      &orderID,
		DebitType:    wallet.TxPayout,
		CreditType:   wallet.TxEarning,
		Reference:    "earning:" + party + ":" + string(orderID),
		Description:  party + " earning",
	})
	if errors.Is(err, wallet.ErrDuplicateReference) {
		return nil
	}
	return err
}

// PayWithWallet moves the order total from the customer to the platform. A short
// balance is reported in the result, not as an error. The ledger accepts the
// charge once per order, so repeated or concurrent calls never double charge.
func (s *Service) PayWithWallet(ctx context.Context, orderID types.ID) (PaymentResult, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return PaymentResult{}, err
	}
	if o.PaymentMethod != order.PaymentWallet {
		return PaymentResult{}, fmt.Errorf("order pays by %s: %w", o.PaymentMethod, ErrBadRequest)
	}
	res := PaymentResult{OrderID: o.ID, Required: o.TotalAmount}
	if o.Paid() {
		res.Success, res.AlreadyPaid = true, true
		return res, nil
	}
	if o.Status == order.StatusCancelled || o.Status == order.StatusRejected {
		return PaymentResult{}, fmt.Errorf("order is %s: %w", o.Status, ErrInvalidState)
	}

	customer, err := s.ledger.EnsureWallet(ctx, o.CustomerID, wallet.OwnerCustomer)
	if err != nil {
		return PaymentResult{}, err
	}
	res.Balance = customer.Balance
	platform, err := s.ledger.PlatformWallet(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	if o.TotalAmount.IsPositive() {
		_, err = s.ledger.Transfer(ctx, wallet.TransferCommand{
			FromWalletID: customer.ID,
			ToWalletID:   platform.ID,
			Amount:       o.TotalAmount,
			OrderID:      &o.ID,
			DebitType:    wallet.TxPayment,
			CreditType:   wallet.TxPaymentReceived,
			Reference:    paymentReference(o.ID),
			Description:  "wallet payment",
		})
		switch {
		case errors.Is(err, wallet.ErrInsufficientBalance):
			res.Reason = ReasonInsufficientFunds
			return res, nil
		case errors.Is(err, wallet.ErrDuplicateReference):
			// a concurrent call charged first; finish its bookkeeping below
			res.AlreadyPaid = true
			if cur, err := s.ledger.EnsureWallet(ctx, o.CustomerID, wallet.OwnerCustomer); err == nil {
				res.Balance = cur.Balance
			}
		case err != nil:
			return PaymentResult{}, err
		default:
			res.Balance = customer.Balance.Sub(o.TotalAmount)
		}
	}

	won, err := s.orders.MarkPaid(ctx, o.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	if !won {
		res.AlreadyPaid = true
	}
	closed, err := s.afterCapture(ctx, o.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	if closed {
		return PaymentResult{}, fmt.Errorf("order closed during payment, charge refunded: %w", ErrInvalidState)
	}
	res.Success = true
	return res, nil
}

// afterCapture re-reads an order once its money is in the platform wallet. A
// cancellation that committed meanwhile saw an unpaid order and issued no refund,
// so the refund happens here; closed reports that case. A delivered order is
// settled so its payout is not left waiting.
func (s *Service) afterCapture(ctx context.Context, orderID types.ID) (closed bool, err error) {
	cur, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	switch cur.Status {
	case order.StatusCancelled, order.StatusRejected:
		if err := s.Refund(ctx, cur, "payment received after "+strings.ToLower(string(cur.Status))); err != nil {
			return true, err
		}
		return true, nil
	case order.StatusDelivered:
		if err := s.Settle(ctx, cur); err != nil && !errors.Is(err, ErrAlreadyExists) {
			s.log.Error("settlement after payment failed", "order_id", string(cur.ID), "err", err)
		}
	}
	return false, nil
}

// CaptureCOD remits the cash the driver collected to the platform wallet.
func (s *Service) CaptureCOD(ctx context.Context, o *order.Order) error {
	if o.PaymentMethod != order.PaymentCOD || o.DriverID == nil {
		return ErrBadRequest
	}
	if o.Paid() {
		return nil
	}
	driver, err := s.ledger.EnsureWallet(ctx, *o.DriverID, wallet.OwnerDriver)
	if err != nil {
		return err
	}
	platform, err := s.ledger.PlatformWallet(ctx)
	if err != nil {
		return err
	}
	if o.TotalAmount.IsPositive() {
		_, err = s.ledger.Transfer(ctx, wallet.TransferCommand{
			FromWalletID: driver.ID,
			ToWalletID:   platform.ID,
			Amount:       o.TotalAmount,
			OrderID:      &o.ID,
			DebitType:    wallet.TxCODRemittance,
			CreditType:   wallet.TxCODReceived,
			Reference:    "cod:" + string(o.ID),
			Description:  "cash on delivery remittance",
		})
		if err != nil && !errors.Is(err, wallet.ErrDuplicateReference) {
			return err
		}
	}
	_, err = s.orders.MarkPaid(ctx, o.ID)
	return err
}

// ValidateCOD rejects cash orders above the driver's cash float.
func (s *Service) ValidateCOD(ctx context.Context, driverID types.ID, amount decimal.Decimal) error {
	d, err := s.catalog.Driver(ctx, driverID)
	if err != nil {
		return err
	}
	limit := s.config.Decimal(ctx, sysconfig.KeyDefaultDriverCODLimit, DefaultCODLimit)
	if d.CODLimit.Valid {
		limit = d.CODLimit.Decimal
	}
	if amount.GreaterThan(limit) {
		return fmt.Errorf("%w: %s over limit %s", ErrCODLimitExceeded, amount.String(), limit.String())
	}
	return nil
}

// Refund returns the order total from the platform to the customer. An order is
// refunded at most once: the ledger accepts the refund reference a single time.
func (s *Service) Refund(ctx context.Context, o *order.Order, reason string) error {
	if !o.TotalAmount.IsPositive() {
		return nil
	}
	customer, err := s.ledger.EnsureWallet(ctx, o.CustomerID, wallet.OwnerCustomer)
	if err != nil {
		return err
	}
	platform, err := s.ledger.PlatformWallet(ctx)
	if err != nil {
		return err
	}
	_, err = s.ledger.Transfer(ctx, wallet.TransferCommand{
		FromWalletID: platform.ID,
		ToWalletID:   customer.ID,
		Amount:       o.TotalAmount,
		OrderID:      &o.ID,
		DebitType:    wallet.TxRefund,
		CreditType:   wallet.TxRefund,
		Reference:    refundReference(o.ID),
		Description:  reason,
	})
	if errors.Is(err, wallet.ErrDuplicateReference) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info("order refunded", "order_id", string(o.ID), "amount", o.TotalAmount.String(), "reason", reason)
	return nil
}

func paymentReference(orderID types.ID) string { return "order:" + string(orderID) }

func refundReference(orderID types.ID) string { return "refund:" + string(orderID) }

// CreatePaymentURL signs a gateway redirect for an unpaid GATEWAY order.
func (s *Service) CreatePaymentURL(ctx context.Context, orderID types.ID, returnURL, clientIP string) (string, error) {
	if s.gateway == nil {
		return "", fmt.Errorf("payment gateway not configured: %w", types.ErrExternalProvider)
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.PaymentMethod != order.PaymentGateway {
		return "", fmt.Errorf("order pays by %s: %w", o.PaymentMethod, ErrBadRequest)
	}
	if o.Paid() || order.IsTerminal(o.Status) {
		return "", fmt.Errorf("order is %s/%s: %w", o.Status, o.PaymentStatus, ErrInvalidState)
	}
	return s.gateway.PaymentURL(o.ID, o.TotalAmount, returnURL, clientIP, s.now()), nil
}

// HandleGatewayCallback verifies the provider's signature before touching any state.
// Success credits the platform wallet and marks the order paid; failure deletes
// the unpaid order. Replays of a settled callback are no-ops.
func (s *Service) HandleGatewayCallback(ctx context.Context, params url.Values) (GatewayResult, error) {
	if s.gateway == nil {
		return GatewayResult{}, fmt.Errorf("payment gateway not configured: %w", types.ErrExternalProvider)
	}
	if !s.gateway.Verify(params) {
		return GatewayResult{}, ErrInvalidSignature
	}
	cb, err := parseCallback(params)
	if err != nil {
		return GatewayResult{}, err
	}
	res := GatewayResult{
		OrderID:        cb.orderID,
		Amount:         cb.amount,
		TransactionRef: cb.transactionRef,
		ResponseCode:   cb.responseCode,
	}

	o, err := s.orders.Get(ctx, cb.orderID)
	if err != nil {
		return res, err
	}
	if o.PaymentMethod != order.PaymentGateway {
		return res, fmt.Errorf("order pays by %s: %w", o.PaymentMethod, ErrBadRequest)
	}
	if o.Paid() {
		res.Success, res.AlreadyPaid = true, true
		return res, nil
	}

	if cb.responseCode != gatewaySuccessCode {
		deleted, err := s.orders.DeleteAbandoned(ctx, o.ID)
		if err != nil {
			return res, err
		}
		res.Deleted = deleted
		s.log.Warn("gateway payment failed", "order_id", string(o.ID), "code", cb.responseCode, "deleted", deleted)
		return res, nil
	}
	if !cb.amount.Equal(o.TotalAmount) {
		return res, ErrAmountMismatch
	}

	// credit first; a failed credit leaves the order unpaid for the provider's retry
	platform, err := s.ledger.PlatformWallet(ctx)
	if err != nil {
		return res, err
	}
	if cb.amount.IsPositive() {
		_, err = s.ledger.CreateTransaction(ctx, wallet.CreateTransactionCommand{
			WalletID:    platform.ID,
			OrderID:     &o.ID,
			Amount:      cb.amount,
			Type:        wallet.TxGatewayReceived,
			Status:      wallet.TxSuccess,
			Reference:   "gateway:" + cb.transactionRef,
			Description: "gateway payment",
		})
		if err != nil && !errors.Is(err, wallet.ErrDuplicateReference) {
			return res, err
		}
	}

	won, err := s.orders.MarkPaid(ctx, o.ID)
	if err != nil {
		return res, err
	}
	res.Success = true
	res.AlreadyPaid = !won

	// the order may have been cancelled while the customer sat on the gateway page
	if _, err := s.afterCapture(ctx, o.ID); err != nil {
		return res, err
	}
	return res, nil
}
