package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/rentwise/internal/cache"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/events"
	"github.com/smallbiznis/rentwise/internal/lock"
	"github.com/smallbiznis/rentwise/internal/observability"
	obsmiddleware "github.com/smallbiznis/rentwise/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/rentwise/internal/observability/metrics"
	obstracing "github.com/smallbiznis/rentwise/internal/observability/tracing"
	"github.com/smallbiznis/rentwise/internal/payment"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/link"
	"github.com/smallbiznis/rentwise/internal/payment/receipt"
	"github.com/smallbiznis/rentwise/internal/payment/webhook"
	"github.com/smallbiznis/rentwise/internal/processoraccount"
	processordomain "github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	"github.com/smallbiznis/rentwise/internal/providers"
	"github.com/smallbiznis/rentwise/internal/ratelimit"
	"github.com/smallbiznis/rentwise/internal/rentdue"
	rentduedomain "github.com/smallbiznis/rentwise/internal/rentdue/domain"
	"github.com/smallbiznis/rentwise/internal/rentsummary"
	rentsummarydomain "github.com/smallbiznis/rentwise/internal/rentsummary/domain"
	"github.com/smallbiznis/rentwise/internal/scheduler"
	"github.com/smallbiznis/rentwise/internal/tenancy"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	lock.Module,
	ratelimit.Module,
	cache.Module,
	events.Module,
	providers.Module,
	tenancy.Module,
	processoraccount.Module,
	rentdue.Module,
	payment.Module,
	rentsummary.Module,
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	payments   paymentdomain.Service
	accounts   processordomain.Service
	rentDue    rentduedomain.Service
	links      *link.Issuer
	reconciler *webhook.Reconciler
	receipts   *receipt.Service
	summaries  rentsummarydomain.Service

	limiter   *ratelimit.Limiter
	scheduler *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Payments   paymentdomain.Service
	Accounts   processordomain.Service
	RentDue    rentduedomain.Service
	Links      *link.Issuer
	Reconciler *webhook.Reconciler
	Receipts   *receipt.Service
	Summaries  rentsummarydomain.Service

	Limiter   *ratelimit.Limiter   `optional:"true"`
	Scheduler *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		payments:   p.Payments,
		accounts:   p.Accounts,
		rentDue:    p.RentDue,
		links:      p.Links,
		reconciler: p.Reconciler,
		receipts:   p.Receipts,
		summaries:  p.Summaries,
		limiter:    p.Limiter,
		scheduler:  p.Scheduler,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks", RateLimit(s.limiter, ratelimit.ScopeWebhook))

	hooks.POST("/:provider", s.HandleWebhook)
	hooks.POST("/:provider/:account_id", s.HandleWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Tenants --------
	tenants := api.Group("/tenants/:tenant_id", TenantScope())
	{
		tenants.GET("/rent-due", s.GetRentDue)
		tenants.GET("/rent-summary", s.GetRentSummary)
		tenants.GET("/payments", s.ListTenantPayments)
		tenants.POST("/payments", RateLimit(s.limiter, ratelimit.ScopeIssue), s.IssuePayment)
		tenants.POST("/payments/rent", RateLimit(s.limiter, ratelimit.ScopeIssue), s.IssueRentPayment)
	}

	// -------- Payments --------
	api.GET("/payments", s.ListPayments)
	api.GET("/payments/:receipt", s.GetPayment)
	api.GET("/payments/:receipt/receipt.pdf", s.DownloadReceipt)
	api.POST("/payments/:receipt/reissue", RateLimit(s.limiter, ratelimit.ScopeIssue), s.ReissuePaymentLink)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	// -------- Ledger actions --------
	admin.POST("/payments/:receipt/status", s.TransitionPayment)
	admin.POST("/payments/:receipt/late-fee", s.ApplyLateFee)
	admin.POST("/payments/:receipt/refund", s.RefundPayment)

	// -------- Processor accounts --------
	admin.GET("/processor-accounts", s.ListProcessorAccounts)
	admin.POST("/processor-accounts", s.CreateProcessorAccount)
	admin.GET("/processor-accounts/:id", s.GetProcessorAccount)
	admin.DELETE("/processor-accounts/:id", s.DeleteProcessorAccount)
	admin.POST("/processor-accounts/:id/restore", s.RestoreProcessorAccount)
	admin.POST("/processor-accounts/:id/credentials", s.RotateProcessorCredentials)
	admin.POST("/processor-accounts/:id/activate", s.ActivateProcessorAccount)
	admin.POST("/processor-accounts/:id/deactivate", s.DeactivateProcessorAccount)
	admin.POST("/processor-accounts/:id/webhook", s.RegisterProcessorWebhook)
	admin.POST("/processor-accounts/:id/default", s.SetDefaultProcessorAccount)
	admin.PUT("/processor-accounts/:id/properties", s.AssignProcessorProperties)

	// -------- Jobs --------
	if s.scheduler != nil {
		admin.POST("/jobs/overdue-sweep", s.RunOverdueSweep)
	}
}

func (s *Server) RunOverdueSweep(c *gin.Context) {
	if err := s.scheduler.RunOnce(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": scheduler.JobOverdueSweep, "status": "completed"})
}
