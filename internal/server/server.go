package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/warmline/internal/booking"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	"github.com/smallbiznis/warmline/internal/callevent"
	calleventsvc "github.com/smallbiznis/warmline/internal/callevent/service"
	"github.com/smallbiznis/warmline/internal/callqueue"
	queuedomain "github.com/smallbiznis/warmline/internal/callqueue/domain"
	"github.com/smallbiznis/warmline/internal/capacity"
	capacitydomain "github.com/smallbiznis/warmline/internal/capacity/domain"
	"github.com/smallbiznis/warmline/internal/config"
	"github.com/smallbiznis/warmline/internal/dispatch"
	dispatchdomain "github.com/smallbiznis/warmline/internal/dispatch/domain"
	"github.com/smallbiznis/warmline/internal/lifecycle"
	lifecycledomain "github.com/smallbiznis/warmline/internal/lifecycle/domain"
	"github.com/smallbiznis/warmline/internal/observability"
	obsmiddleware "github.com/smallbiznis/warmline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/warmline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/warmline/internal/observability/tracing"
	"github.com/smallbiznis/warmline/internal/payment"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
	voice "github.com/smallbiznis/warmline/internal/providers/voice"
	voicedomain "github.com/smallbiznis/warmline/internal/providers/voice/domain"
	"github.com/smallbiznis/warmline/internal/ratelimit"
	"github.com/smallbiznis/warmline/internal/trial"
	trialdomain "github.com/smallbiznis/warmline/internal/trial/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	booking.Module,
	capacity.Module,
	trial.Module,
	callevent.Module,
	callqueue.Module,
	voice.Module,
	dispatch.Module,
	lifecycle.Module,
	payment.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg *config.Config) {
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

type Server struct {
	engine        *gin.Engine
	cfg           *config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	bookingSvc    bookingdomain.Service
	capacitySvc   capacitydomain.Service
	queueSvc      queuedomain.Service
	trialSvc      trialdomain.Service
	dispatchSvc   dispatchdomain.Service
	lifecycleSvc  lifecycledomain.Service
	paymentSvc    paymentdomain.Service
	invoiceSvc    paymentdomain.InvoiceIssuer
	voiceProvider voicedomain.CallProvider
	events        *calleventsvc.Recorder
	limiter       *ratelimit.CallLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           *config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	BookingSvc    bookingdomain.Service
	CapacitySvc   capacitydomain.Service
	QueueSvc      queuedomain.Service
	TrialSvc      trialdomain.Service
	DispatchSvc   dispatchdomain.Service
	LifecycleSvc  lifecycledomain.Service
	PaymentSvc    paymentdomain.Service
	InvoiceSvc    paymentdomain.InvoiceIssuer `optional:"true"`
	VoiceProvider voicedomain.CallProvider
	Events        *calleventsvc.Recorder
	Limiter       *ratelimit.CallLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		bookingSvc:    p.BookingSvc,
		capacitySvc:   p.CapacitySvc,
		queueSvc:      p.QueueSvc,
		trialSvc:      p.TrialSvc,
		dispatchSvc:   p.DispatchSvc,
		lifecycleSvc:  p.LifecycleSvc,
		paymentSvc:    p.PaymentSvc,
		invoiceSvc:    p.InvoiceSvc,
		voiceProvider: p.VoiceProvider,
		events:        p.Events,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerMaintenanceRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/bookings", s.CreateBooking)
	api.GET("/bookings/:id/status", s.BookingStatus)

	api.POST("/trials/check", s.CheckTrialEligibility)

	api.POST("/calls/check-concurrency", s.CheckConcurrency)
	api.POST("/calls/initiate", s.InitiateCall)
	api.POST("/calls/webhook", s.HandleCallWebhook)

	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
	// Blockonomics delivers its callback as a GET with query parameters.
	api.GET("/payments/webhooks/blockonomics", s.HandleBlockonomicsCallback)
}

func (s *Server) registerMaintenanceRoutes() {
	internal := s.engine.Group("/internal", s.MaintenanceAuthRequired())

	internal.POST("/queue/drain", s.MaintenanceDrainQueue)
	internal.POST("/calls/sweep", s.MaintenanceSweepCalls)
	internal.POST("/payments/expire", s.MaintenanceExpirePayments)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.MaintenanceAuthRequired())

	admin.GET("/capacity", s.AdminCapacity)
	admin.GET("/bookings/:id/events", s.AdminBookingEvents)
}
