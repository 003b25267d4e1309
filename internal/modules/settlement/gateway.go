// README: Payment gateway redirect signing and callback verification (HMAC-SHA512 over sorted params).
package settlement

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/types"
)

const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
	gatewaySuccessCode  = "00"
)

type GatewayConfig struct {
	MerchantCode string
	HashSecret   string
	PayURL       string
	ReturnURL    string
	Location     *time.Location
}

type Gateway struct {
	cfg GatewayConfig
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Gateway{cfg: cfg}
}

// Sign hashes every parameter except the hash fields, keys sorted, values query-escaped.
func (g *Gateway) Sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == paramSecureHash || k == paramSecureHashType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	mac := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) Verify(params url.Values) bool {
	got := strings.ToLower(params.Get(paramSecureHash))
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(g.Sign(params)))
}

// PaymentURL builds the signed redirect. Amounts travel in minor units (x100).
func (g *Gateway) PaymentURL(orderID types.ID, amount decimal.Decimal, returnURL, clientIP string, at time.Time) string {
	if returnURL == "" {
		returnURL = g.cfg.ReturnURL
	}
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	p := url.Values{}
	p.Set("vnp_Version", "2.1.0")
	p.Set("vnp_Command", "pay")
	p.Set("vnp_TmnCode", g.cfg.MerchantCode)
	p.Set("vnp_Amount", amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	p.Set("vnp_CurrCode", "VND")
	p.Set("vnp_TxnRef", string(orderID))
	p.Set("vnp_OrderInfo", "Payment for order "+string(orderID))
	p.Set("vnp_OrderType", "other")
	p.Set("vnp_Locale", "vn")
	p.Set("vnp_ReturnUrl", returnURL)
	p.Set("vnp_IpAddr", clientIP)
	p.Set("vnp_CreateDate", at.In(g.cfg.Location).Format("20060102150405"))
	p.Set("vnp_ExpireDate", at.Add(15*time.Minute).In(g.cfg.Location).Format("20060102150405"))
	p.Set(paramSecureHash, g.Sign(p))
	return g.cfg.PayURL + "?" + p.Encode()
}

type callbackParams struct {
	orderID        types.ID
	amount         decimal.Decimal
	responseCode   string
	transactionRef string
}

func parseCallback(params url.Values) (callbackParams, error) {
	orderID := params.Get("vnp_TxnRef")
	if orderID == "" {
		return callbackParams{}, ErrBadRequest
	}
	minor, err := decimal.NewFromString(params.Get("vnp_Amount"))
	if err != nil {
		return callbackParams{}, ErrBadRequest
	}
	return callbackParams{
		orderID:        types.ID(orderID),
		amount:         types.RoundMoney(minor.Div(decimal.NewFromInt(100))),
		responseCode:   params.Get("vnp_ResponseCode"),
		transactionRef: params.Get("vnp_TransactionNo"),
	}, nil
}
