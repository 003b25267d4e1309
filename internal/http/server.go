// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"platter/internal/http/handlers"
	"platter/internal/http/middleware"
)

type ServerDeps struct {
	Order      handlers.OrderService
	Payments   handlers.PaymentService
	Wallet     handlers.WalletService
	Pricing    handlers.QuoteService
	Rejections handlers.RejectionService
	// ReturnURL is the default gateway redirect target.
	ReturnURL string
	Log       *slog.Logger
}

type Server struct {
	orders   *handlers.OrderHandler
	payments *handlers.PaymentHandler
	wallets  *handlers.WalletHandler
	dispatch *handlers.DispatchHandler
	log      *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		orders:   handlers.NewOrderHandler(deps.Order),
		payments: handlers.NewPaymentHandler(deps.Payments, deps.ReturnURL),
		wallets:  handlers.NewWalletHandler(deps.Wallet),
		dispatch: handlers.NewDispatchHandler(deps.Pricing, deps.Rejections),
		log:      log,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	orders := api.Group("/orders")
	orders.POST("", s.orders.Create)
	orders.GET("/:id", s.orders.Get)
	orders.GET("/:id/history", s.orders.History)
	orders.POST("/:id/status", s.orders.UpdateStatus)
	orders.POST("/:id/assign", s.orders.AssignDriver)
	orders.POST("/:id/cancel", s.orders.Cancel)
	orders.POST("/:id/reject", s.orders.Reject)
	orders.POST("/:id/pay/wallet", s.payments.PayWallet)
	orders.POST("/:id/pay/gateway", s.payments.PayGateway)
	orders.GET("/:id/earnings", s.payments.Earnings)
	orders.POST("/:id/rejections", s.dispatch.AddRejection)
	orders.GET("/:id/rejections", s.dispatch.Rejections)

	api.GET("/payments/gateway/callback", s.payments.GatewayCallback)

	wallets := api.Group("/wallets")
	wallets.GET("/:owner", s.wallets.Get)
	wallets.POST("/:owner/deposit", s.wallets.Deposit)
	wallets.POST("/:owner/withdraw", s.wallets.Withdraw)

	api.GET("/pricing/quote", s.dispatch.Quote)
	return r
}
