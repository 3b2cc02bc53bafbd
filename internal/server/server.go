// Package server exposes the HTTP surface: signup, tenant lifecycle,
// usage checks, payment webhooks, and the admin reconcile trigger.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/croftlabs/croft/internal/config"
	paymentdomain "github.com/croftlabs/croft/internal/payment/domain"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	provisioningdomain "github.com/croftlabs/croft/internal/provisioning/domain"
	"github.com/croftlabs/croft/internal/reconciliation"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
	usagedomain "github.com/croftlabs/croft/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config) *gin.Engine {
	return NewEngine(cfg)
}

type ServerParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Tenants     tenantdomain.Repository
	Provisioner provisioningdomain.Service
	Processor   paymentdomain.Processor
	Plansvc     plandomain.Service
	Subsvc      subscriptiondomain.Service
	Usagesvc    usagedomain.Service
	Sweep       *reconciliation.Job
}

type Server struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         config.Config
	tenants     tenantdomain.Repository
	provisioner provisioningdomain.Service
	processor   paymentdomain.Processor
	plansvc     plandomain.Service
	subsvc      subscriptiondomain.Service
	usagesvc    usagedomain.Service
	sweep       *reconciliation.Job
}

func NewServer(p ServerParams) *Server {
	return &Server{
		db:          p.DB,
		log:         p.Log.Named("http"),
		cfg:         p.Cfg,
		tenants:     p.Tenants,
		provisioner: p.Provisioner,
		processor:   p.Processor,
		plansvc:     p.Plansvc,
		subsvc:      p.Subsvc,
		usagesvc:    p.Usagesvc,
		sweep:       p.Sweep,
	}
}

func registerRoutes(r *gin.Engine, s *Server) {
	r.POST("/webhooks/payment/:gateway", s.HandlePaymentWebhook)

	v1 := r.Group("/v1")
	{
		v1.POST("/signup", s.Signup)
		v1.GET("/plans", s.ListPlans)

		tenants := v1.Group("/tenants/:tenant_id")
		tenants.Use(TenantContextMiddleware(s.db, s.tenants))
		{
			tenants.GET("/subscription", s.GetSubscription)
			tenants.POST("/deactivate", s.DeactivateTenant)
			tenants.POST("/reactivate", s.ReactivateTenant)
			tenants.POST("/upgrade", s.UpgradeSubscription)
			tenants.POST("/cancel", s.CancelSubscription)
			tenants.DELETE("", s.DeleteTenant)

			tenants.GET("/usage", s.GetUsage)
			tenants.POST("/usage/check", s.CheckUsage)
		}
	}

	admin := r.Group("/admin")
	{
		admin.POST("/reconcile", s.RunReconciliation)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
