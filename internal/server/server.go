package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/atelier/internal/config"
	invoicedomain "github.com/smallbiznis/atelier/internal/invoice/domain"
	"github.com/smallbiznis/atelier/internal/observability"
	obsmiddleware "github.com/smallbiznis/atelier/internal/observability/logger"
	obstracing "github.com/smallbiznis/atelier/internal/observability/tracing"
	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
	"github.com/smallbiznis/atelier/internal/payment/webhook"
	quotedomain "github.com/smallbiznis/atelier/internal/quote/domain"
	subscriptiondomain "github.com/smallbiznis/atelier/internal/subscription/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(func(svc *webhook.Service) WebhookIngester { return svc }),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// WebhookIngester authenticates and applies one processor delivery.
type WebhookIngester interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
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
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
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
	engine *gin.Engine
	cfg    config.Config

	quoteSvc        quotedomain.Service
	organizationSvc organizationdomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	webhooks        WebhookIngester
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	QuoteSvc        quotedomain.Service
	OrganizationSvc organizationdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	Webhooks        WebhookIngester
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		quoteSvc:        p.QuoteSvc,
		organizationSvc: p.OrganizationSvc,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		webhooks:        p.Webhooks,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	api.POST("/quotes", s.CreateQuote)

	api.POST("/organizations", s.CreateOrganization)
	api.GET("/organizations/:id", s.GetOrganization)
	api.PATCH("/organizations/:id", s.UpdateOrganization)
	api.GET("/organizations/:id/quote", s.GetLatestQuote)
	api.GET("/organizations/:id/invoices", s.ListOrganizationInvoices)

	sub := api.Group("/organizations/:id/subscription")
	sub.GET("", s.GetSubscription)
	sub.POST("", s.CreateSubscription)
	sub.PUT("/features", s.ChangeSubscriptionFeatures)
	sub.POST("/cancel", s.CancelSubscription)
	sub.POST("/reactivate", s.ReactivateSubscription)
	sub.POST("/pause", s.PauseSubscription)
	sub.POST("/resume", s.ResumeSubscription)

	api.POST("/invoices", s.CreateInvoice)
	api.POST("/invoices/quote", s.CreateInvoiceFromQuote)
	api.GET("/invoices/:id", s.GetInvoice)
	api.GET("/invoices/:id/html", s.RenderInvoiceHTML)
	api.POST("/invoices/:id/send", s.SendInvoice)
	api.POST("/invoices/:id/void", s.VoidInvoice)
	api.POST("/invoices/:id/uncollectible", s.MarkInvoiceUncollectible)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}
