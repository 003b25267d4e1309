// README: Handler tests over stubbed services; checks routing, binding and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "platter/internal/http"
	"platter/internal/modules/order"
	"platter/internal/modules/pricing"
	"platter/internal/modules/settlement"
	"platter/internal/modules/wallet"
	"platter/internal/types"
)

type stubOrders struct {
	created  order.CreateCommand
	status   order.StatusCommand
	assigned order.AssignCommand
	cancel   order.CancelCommand
	reject   order.RejectCommand
	order    *order.Order
	err      error
}

func (s *stubOrders) Create(_ context.Context, cmd order.CreateCommand) (*order.Order, error) {
	s.created = cmd
	return s.order, s.err
}

func (s *stubOrders) Get(_ context.Context, id types.ID) (*order.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, order.ErrNotFound
	}
	return s.order, nil
}

func (s *stubOrders) History(ctx context.Context, id types.ID) ([]order.Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return []order.Event{{OrderID: id, FromStatus: order.StatusNone, ToStatus: order.StatusPending}}, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, cmd order.StatusCommand) (*order.Order, error) {
	s.status = cmd
	return s.order, s.err
}

func (s *stubOrders) AssignDriver(_ context.Context, cmd order.AssignCommand) (*order.Order, error) {
	s.assigned = cmd
	return s.order, s.err
}

func (s *stubOrders) Cancel(_ context.Context, cmd order.CancelCommand) (*order.Order, error) {
	s.cancel = cmd
	return s.order, s.err
}

func (s *stubOrders) Reject(_ context.Context, cmd order.RejectCommand) (*order.Order, error) {
	s.reject = cmd
	return s.order, s.err
}

type stubPayments struct {
	result   settlement.PaymentResult
	gateway  settlement.GatewayResult
	params   url.Values
	clientIP string
	err      error
}

func (s *stubPayments) PayWithWallet(_ context.Context, id types.ID) (settlement.PaymentResult, error) {
	r := s.result
	r.OrderID = id
	return r, s.err
}

func (s *stubPayments) CreatePaymentURL(_ context.Context, id types.ID, returnURL, clientIP string) (string, error) {
	s.clientIP = clientIP
	return "https://pay.example/?ref=" + string(id) + "&ret=" + url.QueryEscape(returnURL), s.err
}

func (s *stubPayments) HandleGatewayCallback(_ context.Context, params url.Values) (settlement.GatewayResult, error) {
	s.params = params
	return s.gateway, s.err
}

func (s *stubPayments) Summary(_ context.Context, id types.ID) (*settlement.EarningsSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	sum := settlement.ComputeSplit(id, decimal.NewFromInt(500000), decimal.NewFromInt(20000), decimal.NewFromInt(15), decimal.NewFromInt(80))
	return &sum, nil
}

type stubWallets struct {
	wallets map[types.ID]*wallet.Wallet
}

func newStubWallets() *stubWallets {
	return &stubWallets{wallets: map[types.ID]*wallet.Wallet{}}
}

func (s *stubWallets) EnsureWallet(_ context.Context, owner types.ID, ownerType wallet.OwnerType) (*wallet.Wallet, error) {
	if w, ok := s.wallets[owner]; ok {
		return w, nil
	}
	w := &wallet.Wallet{ID: "w-" + owner, OwnerID: owner, OwnerType: ownerType}
	s.wallets[owner] = w
	return w, nil
}

func (s *stubWallets) GetByOwner(_ context.Context, owner types.ID) (*wallet.Wallet, error) {
	if w, ok := s.wallets[owner]; ok {
		return w, nil
	}
	return nil, wallet.ErrNotFound
}

func (s *stubWallets) find(id types.ID) *wallet.Wallet {
	for _, w := range s.wallets {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (s *stubWallets) Deposit(_ context.Context, id types.ID, amount decimal.Decimal) (*wallet.Transaction, error) {
	if !amount.IsPositive() {
		return nil, wallet.ErrBadRequest
	}
	w := s.find(id)
	w.Balance = w.Balance.Add(amount)
	return &wallet.Transaction{WalletID: id, Amount: amount, Type: wallet.TxDeposit, Status: wallet.TxSuccess}, nil
}

func (s *stubWallets) Withdraw(_ context.Context, id types.ID, amount decimal.Decimal) (*wallet.Transaction, error) {
	w := s.find(id)
	if amount.GreaterThan(w.Balance) {
		return nil, wallet.ErrInsufficientBalance
	}
	w.Balance = w.Balance.Sub(amount)
	return &wallet.Transaction{WalletID: id, Amount: amount.Neg(), Type: wallet.TxWithdrawal, Status: wallet.TxSuccess}, nil
}

func (s *stubWallets) Transactions(context.Context, types.ID, int) ([]wallet.Transaction, error) {
	return []wallet.Transaction{}, nil
}

type stubQuotes struct{ err error }

func (s stubQuotes) Quote(_ context.Context, from, to types.Point) (pricing.Quote, error) {
	return pricing.Quote{DistanceKm: 3.2, Surge: decimal.NewFromFloat(1.2), Fee: decimal.NewFromInt(24000)}, s.err
}

type stubRejections struct{ drivers map[types.ID][]types.ID }

func (s *stubRejections) AddRejection(_ context.Context, orderID, driverID types.ID) error {
	s.drivers[orderID] = append(s.drivers[orderID], driverID)
	return nil
}

func (s *stubRejections) Rejections(_ context.Context, orderID types.ID) ([]types.ID, error) {
	return s.drivers[orderID], nil
}

type fixture struct {
	router     http.Handler
	orders     *stubOrders
	payments   *stubPayments
	wallets    *stubWallets
	quotes     *stubQuotes
	rejections *stubRejections
}

// buildTestRouter wires the full route table over stub services.
func buildTestRouter() *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		orders:     &stubOrders{order: &order.Order{ID: "o1", Status: order.StatusPending, TotalAmount: decimal.NewFromInt(150000)}},
		payments:   &stubPayments{},
		wallets:    newStubWallets(),
		quotes:     &stubQuotes{},
		rejections: &stubRejections{drivers: map[types.ID][]types.ID{}},
	}
	srv := api.NewServer(api.ServerDeps{
		Order:      f.orders,
		Payments:   f.payments,
		Wallet:     f.wallets,
		Pricing:    f.quotes,
		Rejections: f.rejections,
		ReturnURL:  "http://localhost/return",
	})
	f.router = srv.Routes()
	return f
}

func doRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := buildTestRouter()
	w := doRequest(f.router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreateOrder(t *testing.T) {
	f := buildTestRouter()
	w := doRequest(f.router, http.MethodPost, "/api/orders", map[string]any{
		"customer_id":    "c1",
		"restaurant_id":  "r1",
		"payment_method": "COD",
		"delivery_lat":   10.77,
		"delivery_lng":   106.70,
		"discount":       "5000",
		"items": []map[string]any{
			{"dish_id": "pho", "quantity": 2, "option_ids": []string{"beef"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "o1", decode(t, w)["id"])

	cmd := f.orders.created
	assert.Equal(t, types.ID("c1"), cmd.CustomerID)
	assert.Equal(t, order.PaymentCOD, cmd.PaymentMethod)
	assert.Equal(t, 10.77, cmd.DeliveryPoint.Lat)
	assert.True(t, cmd.Discount.Equal(decimal.NewFromInt(5000)))
	require.Len(t, cmd.Items, 1)
	assert.Equal(t, 2, cmd.Items[0].Quantity)
	assert.Equal(t, []types.ID{"beef"}, cmd.Items[0].OptionIDs)
}

func TestCreateOrderRejectsBadBodies(t *testing.T) {
	cases := []struct {
		name string
		body any
	}{
		{"no items", map[string]any{"customer_id": "c1", "restaurant_id": "r1", "payment_method": "COD", "items": []any{}}},
		{"zero quantity", map[string]any{"customer_id": "c1", "restaurant_id": "r1", "payment_method": "COD",
			"items": []map[string]any{{"dish_id": "pho", "quantity": 0}}}},
		{"missing customer", map[string]any{"restaurant_id": "r1", "payment_method": "COD",
			"items": []map[string]any{{"dish_id": "pho", "quantity": 1}}}},
		{"bad id", map[string]any{"customer_id": "c 1", "restaurant_id": "r1", "payment_method": "COD",
			"items": []map[string]any{{"dish_id": "pho", "quantity": 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := buildTestRouter()
			w := doRequest(f.router, http.MethodPost, "/api/orders", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Empty(t, f.orders.created.CustomerID, "service must not be called")
		})
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{order.ErrBadRequest, http.StatusBadRequest},
		{order.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("dish x: %w", types.ErrReferenceNotFound), http.StatusNotFound},
		{order.ErrInvalidState, http.StatusConflict},
		{order.ErrConflict, http.StatusConflict},
		{settlement.ErrCODLimitExceeded, http.StatusBadRequest},
		{wallet.ErrInsufficientBalance, http.StatusPaymentRequired},
		{fmt.Errorf("weather: %w", types.ErrExternalProvider), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			f := buildTestRouter()
			f.orders.err = tc.err
			w := doRequest(f.router, http.MethodPost, "/api/orders/o1/status", map[string]any{"status": "CONFIRMED"})
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusInternalServerError {
				assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
			}
		})
	}
}

func TestGetOrderAndHistory(t *testing.T) {
	f := buildTestRouter()

	w := doRequest(f.router, http.MethodGet, "/api/orders/o1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PENDING", decode(t, w)["status"])

	w = doRequest(f.router, http.MethodGet, "/api/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(f.router, http.MethodGet, "/api/orders/o1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["events"], 1)

	w = doRequest(f.router, http.MethodGet, "/api/orders/bad$id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	f := buildTestRouter()
	w := doRequest(f.router, http.MethodPost, "/api/orders/o1/status", map[string]any{
		"status": "PREPARING", "actor_type": "restaurant", "actor_id": "r1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusPreparing, f.orders.status.Status)
	require.NotNil(t, f.orders.status.ActorID)
	assert.Equal(t, types.ID("r1"), *f.orders.status.ActorID)

	w = doRequest(f.router, http.MethodPost, "/api/orders/o1/status", map[string]any{"status": "COOKING"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssignCancelReject(t *testing.T) {
	f := buildTestRouter()

	w := doRequest(f.router, http.MethodPost, "/api/orders/o1/assign", map[string]any{"driver_id": "d1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.ID("d1"), f.orders.assigned.DriverID)

	w = doRequest(f.router, http.MethodPost, "/api/orders/o1/assign", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/cancel", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.ActorCustomer, f.orders.cancel.ActorType)

	w = doRequest(f.router, http.MethodPost, "/api/orders/o1/reject", map[string]any{"restaurant_id": "r1", "reason": "closed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.ID("r1"), f.orders.reject.RestaurantID)
	assert.Equal(t, "closed", f.orders.reject.Reason)
}

func TestCancelWithFailedRefundIsAccepted(t *testing.T) {
	f := buildTestRouter()
	f.orders.order.Status = order.StatusCancelled
	f.orders.err = fmt.Errorf("%w: %w", order.ErrRefundFailed, errors.New("ledger down"))

	w := doRequest(f.router, http.MethodPost, "/api/orders/o1/cancel", map[string]any{"reason": "changed mind"})
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Contains(t, body["refund_error"], "ledger down")
	assert.Equal(t, "changed mind", f.orders.cancel.Reason)
}

func TestPayWithWallet(t *testing.T) {
	f := buildTestRouter()
	f.payments.result = settlement.PaymentResult{Success: true, Required: decimal.NewFromInt(150000)}
	w := doRequest(f.router, http.MethodPost, "/api/orders/o1/pay/wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	f.payments.result = settlement.PaymentResult{
		Reason:   settlement.ReasonInsufficientFunds,
		Balance:  decimal.NewFromInt(1000),
		Required: decimal.NewFromInt(150000),
	}
	w = doRequest(f.router, http.MethodPost, "/api/orders/o1/pay/wallet", nil)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, settlement.ReasonInsufficientFunds, decode(t, w)["reason"])
}

func TestGatewayRoutes(t *testing.T) {
	f := buildTestRouter()

	w := doRequest(f.router, http.MethodPost, "/api/orders/o1/pay/gateway", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["payment_url"], "ref=o1")
	assert.NotEmpty(t, f.payments.clientIP)

	f.payments.gateway = settlement.GatewayResult{OrderID: "o1", Success: true, ResponseCode: "00"}
	w = doRequest(f.router, http.MethodGet, "/api/payments/gateway/callback?vnp_TxnRef=o1&vnp_ResponseCode=00", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "o1", f.payments.params.Get("vnp_TxnRef"))

	f.payments.err = settlement.ErrInvalidSignature
	w = doRequest(f.router, http.MethodGet, "/api/payments/gateway/callback?vnp_TxnRef=o1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEarnings(t *testing.T) {
	f := buildTestRouter()
	w := doRequest(f.router, http.MethodGet, "/api/orders/o1/earnings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	f.payments.err = settlement.ErrNotFound
	w = doRequest(f.router, http.MethodGet, "/api/orders/o1/earnings", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWalletRoutes(t *testing.T) {
	f := buildTestRouter()

	w := doRequest(f.router, http.MethodGet, "/api/wallets/c1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(f.router, http.MethodPost, "/api/wallets/c1/deposit", map[string]any{"amount": "100000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, wallet.OwnerCustomer, f.wallets.wallets["c1"].OwnerType)

	w = doRequest(f.router, http.MethodPost, "/api/wallets/c1/deposit", map[string]any{"amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(f.router, http.MethodPost, "/api/wallets/c1/withdraw", map[string]any{"amount": "150000"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.True(t, f.wallets.wallets["c1"].Balance.Equal(decimal.NewFromInt(100000)))

	w = doRequest(f.router, http.MethodPost, "/api/wallets/c1/withdraw", map[string]any{"amount": "40000"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(f.router, http.MethodGet, "/api/wallets/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)["wallet"].(map[string]any)
	assert.Equal(t, "60000", got["balance"])
}

func TestPricingQuote(t *testing.T) {
	f := buildTestRouter()
	w := doRequest(f.router, http.MethodGet, "/api/pricing/quote?from_lat=10.77&from_lng=106.70&to_lat=10.80&to_lng=106.66", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "24000", decode(t, w)["fee"])

	w = doRequest(f.router, http.MethodGet, "/api/pricing/quote?from_lat=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectionRoutes(t *testing.T) {
	f := buildTestRouter()
	for _, d := range []string{"d1", "d2"} {
		w := doRequest(f.router, http.MethodPost, "/api/orders/o1/rejections", map[string]any{"driver_id": d})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := doRequest(f.router, http.MethodGet, "/api/orders/o1/rejections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"d1", "d2"}, decode(t, w)["drivers"])
}
