package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ledger is the subset of ledger.Service the HTTP façade drives.
type Ledger interface {
	Create(ctx context.Context, identifiers ledger.Identifiers) (ledger.Account, error)
	Get(ctx context.Context, filter ledger.AccountFilter) (ledger.Account, bool, error)
	Invitees(ctx context.Context, accountID ledger.AccountID) ([]ledger.Account, error)
	InviteCode(ctx context.Context, filter ledger.InviteCodeFilter) (ledger.InviteCode, bool, error)
	DailyStats(ctx context.Context, day time.Time) (ledger.DailyStats, error)
	Today(ctx context.Context) (ledger.DailyStats, error)
	Charge(ctx context.Context, accountID ledger.AccountID, amountCents int64, kind ledger.ChargeKind) error
	Pay(ctx context.Context, accountID ledger.AccountID, amountCents int64) error
	Ban(ctx context.Context, accountID ledger.AccountID, duration time.Duration, scheme ledger.BanScheme) error
	BindInviteCode(ctx context.Context, accountID ledger.AccountID, rawCode string) error
	RecordTokenUsage(ctx context.Context, accountID ledger.AccountID, tokens int64) error
	RecordViolation(ctx context.Context, accountID ledger.AccountID) error
	RecordActivity(ctx context.Context, activity ledger.ActivityDelta) error
}

// Config controls the HTTP listener.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Run serves the HTTP façade until ctx is cancelled.
func Run(ctx context.Context, cfg Config, service Ledger, logger *zap.Logger, gatherer prometheus.Gatherer) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(cfg, service, logger, gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("accountledger listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownTimeout := cfg.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config, service Ledger, logger *zap.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	handler := &httpHandler{service: service, logger: logger}
	api := router.Group("/api")

	api.POST("/accounts", handler.handleCreateAccount)
	api.GET("/accounts", handler.handleGetAccount)
	api.GET("/accounts/:id/invitees", handler.handleInvitees)
	api.POST("/accounts/:id/charge", handler.handleCharge)
	api.POST("/accounts/:id/pay", handler.handlePay)
	api.POST("/accounts/:id/ban", handler.handleBan)
	api.POST("/accounts/:id/bind", handler.handleBind)
	api.POST("/accounts/:id/token-usage", handler.handleTokenUsage)
	api.POST("/accounts/:id/violations", handler.handleViolation)

	api.GET("/invite-codes/:code", handler.handleInviteCode)

	api.GET("/stats/daily", handler.handleDailyStats)
	api.POST("/stats/activity", handler.handleActivity)

	return router
}
