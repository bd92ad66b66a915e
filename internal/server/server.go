// Package server exposes the manual operations API: the surface operators use
// to manage retainers, collection rules, billing schedules and payment
// promises outside the batch runner.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	automationdomain "github.com/permitwise/billingcore/internal/automation/domain"
	billingscheduledomain "github.com/permitwise/billingcore/internal/billingschedule/domain"
	"github.com/permitwise/billingcore/internal/clock"
	"github.com/permitwise/billingcore/internal/config"
	promisedomain "github.com/permitwise/billingcore/internal/promise/domain"
	retainerdomain "github.com/permitwise/billingcore/internal/retainer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	clock       clock.Clock
	retainerSvc retainerdomain.Service
	evaluator   automationdomain.Evaluator
	dispatcher  automationdomain.Dispatcher
	ruleAdmin   automationdomain.RuleAdmin
	scheduleSvc billingscheduledomain.Service
	promiseSvc  promisedomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Clock       clock.Clock
	RetainerSvc retainerdomain.Service
	Evaluator   automationdomain.Evaluator
	Dispatcher  automationdomain.Dispatcher
	RuleAdmin   automationdomain.RuleAdmin
	ScheduleSvc billingscheduledomain.Service
	PromiseSvc  promisedomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		clock:       p.Clock,
		retainerSvc: p.RetainerSvc,
		evaluator:   p.Evaluator,
		dispatcher:  p.Dispatcher,
		ruleAdmin:   p.RuleAdmin,
		scheduleSvc: p.ScheduleSvc,
		promiseSvc:  p.PromiseSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func registerRoutes(s *Server) {
	api := s.engine.Group("/api", s.OrgContext())

	// -------- Retainers --------
	api.POST("/retainers", s.CreateRetainer)
	api.GET("/retainers/:id", s.GetRetainer)
	api.GET("/retainers/:id/transactions", s.ListRetainerTransactions)
	api.GET("/retainers/:id/replay", s.ReplayRetainerBalance)
	api.POST("/retainers/:id/deposit", s.DepositRetainer)
	api.POST("/retainers/:id/draw", s.DrawRetainer)
	api.POST("/retainers/:id/refund", s.RefundRetainer)
	api.POST("/retainers/:id/adjust", s.AdjustRetainer)
	api.POST("/retainers/:id/cancel", s.CancelRetainer)

	// -------- Automation rules and logs --------
	api.POST("/automation/rules", s.CreateRule)
	api.GET("/automation/rules", s.ListRules)
	api.POST("/automation/rules/:id/enable", s.EnableRule)
	api.POST("/automation/rules/:id/disable", s.DisableRule)
	api.POST("/automation/evaluate", s.EvaluateRules)
	api.GET("/automation/logs/pending", s.ListPendingLogs)
	api.POST("/automation/logs/:id/approve", s.ApproveLog)
	api.POST("/automation/logs/:id/reject", s.RejectLog)
	api.POST("/automation/logs/:id/sent", s.MarkLogSent)

	// -------- Billing schedules --------
	api.POST("/schedules", s.CreateSchedule)
	api.GET("/schedules", s.ListSchedules)
	api.GET("/schedules/:id", s.GetSchedule)
	api.POST("/schedules/:id/deactivate", s.DeactivateSchedule)
	api.POST("/schedules/run", s.RunDueSchedules)

	// -------- Payment promises --------
	api.POST("/promises", s.RecordPromise)
	api.GET("/promises", s.ListPromises)
	api.GET("/promises/:id", s.GetPromise)
	api.POST("/promises/:id/reconcile", s.ReconcilePromise)
	api.POST("/promises/:id/reschedule", s.ReschedulePromise)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Fatal("http server failed", zap.Error(err))
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
