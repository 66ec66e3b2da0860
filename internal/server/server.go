package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	gatewaydomain "github.com/smallbiznis/payrail/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/payrail/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	"github.com/smallbiznis/payrail/internal/pdf"
	"github.com/smallbiznis/payrail/internal/ratelimit"
	"github.com/smallbiznis/payrail/internal/report"
	"github.com/smallbiznis/payrail/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsMetrics *obsmetrics.Metrics, db *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationMiddleware())
	r.Use(obsmetrics.GinMiddleware(obsMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.WithContext(c.Request.Context()).Exec("SELECT 1").Error; err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsMetrics *obsmetrics.Metrics, db *gorm.DB) *gin.Engine {
	return NewEngine(obsMetrics, db)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine      *gin.Engine
	log         *zap.Logger
	cfg         config.Config
	db          *gorm.DB
	genID       *snowflake.Node
	clock       clock.Clock
	gatewaySvc  gatewaydomain.Service
	invoiceSvc  invoicedomain.Service
	ledgerSvc   ledgerdomain.Service
	webhookSvc  *webhook.Service
	reportSvc   report.Service
	pdfRenderer pdf.Renderer
	obsMetrics  *obsmetrics.Metrics
	limiter     ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Log         *zap.Logger
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	Clock       clock.Clock
	GatewaySvc  gatewaydomain.Service
	InvoiceSvc  invoicedomain.Service
	LedgerSvc   ledgerdomain.Service
	WebhookSvc  *webhook.Service
	ReportSvc   report.Service
	PDFRenderer pdf.Renderer
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
	Limiter     ratelimit.Limiter   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		log:         p.Log.Named("http.server"),
		cfg:         p.Cfg,
		db:          p.DB,
		genID:       p.GenID,
		clock:       p.Clock,
		gatewaySvc:  p.GatewaySvc,
		invoiceSvc:  p.InvoiceSvc,
		ledgerSvc:   p.LedgerSvc,
		webhookSvc:  p.WebhookSvc,
		reportSvc:   p.ReportSvc,
		pdfRenderer: p.PDFRenderer,
		obsMetrics:  p.ObsMetrics,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.rateLimitMiddleware())

	v1.POST("/invoices", s.CreateInvoice)
	v1.GET("/invoices/:id", s.GetInvoice)
	v1.PATCH("/invoices/:id", s.UpdateInvoiceDraft)
	v1.POST("/invoices/:id/initiate", s.InitiateInvoicePayment)
	v1.GET("/invoices/:id/document", s.InvoiceDocument)

	v1.POST("/webhooks/:gateway", s.IngestWebhook)

	v1.GET("/reports/revenue", s.RevenueReport)
}
