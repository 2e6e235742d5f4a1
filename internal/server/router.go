package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/api/handler"
	"github.com/open-apime/autoreply/internal/api/middleware"
	"github.com/open-apime/autoreply/internal/webhook"
)

type Options struct {
	Env             string
	AuthSecret      string
	Log             *zap.Logger
	Registry        *prometheus.Registry
	HealthHandler   *handler.HealthHandler
	InstanceHandler *handler.InstanceHandler
	RuleHandler     *handler.RuleHandler
	WebhookHandler  *webhook.Handler
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(opts.Log))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		MaxAge:       12 * time.Hour,
	}))

	if opts.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{Registry: opts.Registry})))
	}

	// Webhooks do provedor autenticam por token da instância, fora do JWT.
	opts.WebhookHandler.Register(router)

	api := router.Group("/api")
	opts.HealthHandler.Register(api)

	protected := api.Group("")
	protected.Use(middleware.Auth(opts.AuthSecret))
	opts.InstanceHandler.Register(protected)
	opts.RuleHandler.Register(protected)

	return router
}
