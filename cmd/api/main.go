package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/api/handler"
	"github.com/open-apime/autoreply/internal/app"
	"github.com/open-apime/autoreply/internal/config"
	"github.com/open-apime/autoreply/internal/connection"
	"github.com/open-apime/autoreply/internal/dispatcher"
	"github.com/open-apime/autoreply/internal/logger"
	"github.com/open-apime/autoreply/internal/metrics"
	"github.com/open-apime/autoreply/internal/pipeline"
	"github.com/open-apime/autoreply/internal/pkg/crypto"
	"github.com/open-apime/autoreply/internal/provider/greenapi"
	"github.com/open-apime/autoreply/internal/scheduler"
	"github.com/open-apime/autoreply/internal/server"
	"github.com/open-apime/autoreply/internal/service/instance"
	"github.com/open-apime/autoreply/internal/service/rule"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/webhook"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logr, err := logger.New(cfg.App.Env, cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	logr.Info("iniciando aplicação",
		zap.String("env", cfg.App.Env),
		zap.String("version", config.Version),
		zap.String("log_level", cfg.Log.Level),
		zap.String("port", cfg.App.Port),
		zap.String("db_driver", cfg.Storage.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	sealer, err := crypto.NewSealer(cfg.Crypto.SecretKey)
	if err != nil {
		logr.Fatal("crypto: chave inválida", zap.Error(err))
	}

	repos, err := storage.NewRepositories(cfg, logr)
	if err != nil {
		logr.Fatal("storage: falha ao inicializar", zap.Error(err))
	}

	m := metrics.New()

	tracker := connection.NewTracker(repos.ConnectionState, logr, m, cfg.Dispatch.FailureThreshold)
	provider := greenapi.NewClient(logr, m, cfg.Provider.Timeout)

	instanceService := instance.NewService(instance.Options{
		Repo:         repos.Instance,
		RuleRepo:     repos.Rule,
		StateRepo:    repos.ConnectionState,
		EventLogRepo: repos.EventLog,
		Sealer:       sealer,
		Defaults:     cfg.Dispatch,
		APIURL:       cfg.Provider.APIURL,
		Tracker:      tracker,
	})
	ruleService := rule.NewService(repos.Rule, repos.Instance)

	dispatch := dispatcher.New(dispatcher.Options{
		Sender:     provider,
		Resolver:   instanceService,
		Tracker:    tracker,
		Limiter:    repos.RateLimiter,
		Metrics:    m,
		Log:        logr,
		BackoffMax: cfg.Dispatch.BackoffMax,
	})

	coordinator := pipeline.NewCoordinator(pipeline.Options{
		Guard:     repos.Guard,
		Cooldown:  repos.Cooldown,
		Rules:     repos.Rule,
		Instances: repos.Instance,
		Tracker:   tracker,
		Sender:    dispatch,
		EventLog:  repos.EventLog,
		Metrics:   m,
		Log:       logr,
	})

	webhookPool := webhook.NewPool(repos.WebhookQueue, coordinator, logr, cfg.Webhook.Workers, cfg.Dispatch.HandleTimeout)
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	webhookPool.Start(poolCtx)
	logr.Info("webhook pool iniciada", zap.Int("workers", cfg.Webhook.Workers))

	watchdog := connection.NewWatchdog(repos.Instance, instanceService, provider, tracker, logr)

	sched, err := scheduler.New(scheduler.Options{
		Checker:           watchdog,
		EventLog:          repos.EventLog,
		StatePollInterval: cfg.Scheduler.StatePollInterval,
		EventLogRetention: cfg.Scheduler.EventLogRetention,
		Log:               logr,
	})
	if err != nil {
		logr.Fatal("scheduler: falha ao inicializar", zap.Error(err))
	}
	sched.Start()

	router := server.NewRouter(server.Options{
		Env:             cfg.App.Env,
		AuthSecret:      cfg.JWT.Secret,
		Log:             logr,
		Registry:        m.Registry(),
		HealthHandler:   handler.NewHealthHandler(repos.HealthChecks()),
		InstanceHandler: handler.NewInstanceHandler(instanceService, tracker, watchdog, repos.EventLog, logr),
		RuleHandler:     handler.NewRuleHandler(ruleService),
		WebhookHandler:  webhook.NewHandler(repos.WebhookQueue, instanceService, tracker, m, logr),
	})

	application := app.New(cfg, logr, router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	select {
	case <-ctx.Done():
		logr.Info("sinal de encerramento recebido")
	case err := <-errCh:
		if err != nil {
			logr.Error("servidor finalizado com erro", zap.Error(err))
		} else {
			logr.Info("servidor finalizado normalmente")
		}
	}

	logr.Info("iniciando shutdown graceful")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logr.Error("erro ao encerrar servidor", zap.Error(err))
	}

	if err := sched.Stop(); err != nil {
		logr.Warn("erro ao encerrar scheduler", zap.Error(err))
	}

	webhookPool.Stop()
	logr.Info("webhook pool encerrada")

	if err := repos.WebhookQueue.Close(); err != nil {
		logr.Warn("erro ao fechar fila", zap.Error(err))
	}
	if err := repos.Close(); err != nil {
		logr.Warn("erro ao fechar storage", zap.Error(err))
	}
	logr.Info("aplicação encerrada")
}
