package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/config"
	"github.com/open-apime/autoreply/internal/pkg/idempotency"
	guard_memory "github.com/open-apime/autoreply/internal/pkg/idempotency/memory"
	guard_redis "github.com/open-apime/autoreply/internal/pkg/idempotency/redis"
	"github.com/open-apime/autoreply/internal/pkg/queue"
	queue_memory "github.com/open-apime/autoreply/internal/pkg/queue/memory"
	queue_redis "github.com/open-apime/autoreply/internal/pkg/queue/redis"
	"github.com/open-apime/autoreply/internal/pkg/ratelimiter"
	limiter_memory "github.com/open-apime/autoreply/internal/pkg/ratelimiter/memory"
	limiter_redis "github.com/open-apime/autoreply/internal/pkg/ratelimiter/redis"
	"github.com/open-apime/autoreply/internal/storage/postgres"
	storage_redis "github.com/open-apime/autoreply/internal/storage/redis"
	"github.com/open-apime/autoreply/internal/storage/sqlite"
)

type Repositories struct {
	Rule            RuleRepository
	Instance        InstanceRepository
	ConnectionState ConnectionStateRepository
	EventLog        EventLogRepository
	RedisClient     *storage_redis.Client // nil quando Redis está desabilitado
	WebhookQueue    queue.Queue
	RateLimiter     ratelimiter.Limiter
	Guard           idempotency.Guard
	Cooldown        idempotency.Claimer

	closeDB func() error
	pingDB  func(ctx context.Context) error
}

// HealthChecks devolve uma verificação por dependência externa, usada pela
// rota de prontidão.
func (r *Repositories) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{}
	if r.pingDB != nil {
		checks["database"] = r.pingDB
	}
	if r.RedisClient != nil {
		checks["redis"] = r.RedisClient.Ping
	}
	return checks
}

// Close encerra o banco e, se houver, a conexão Redis.
func (r *Repositories) Close() error {
	if r.RedisClient != nil {
		if err := r.RedisClient.Close(); err != nil {
			return err
		}
	}
	if r.closeDB != nil {
		return r.closeDB()
	}
	return nil
}

func NewRepositories(cfg config.Config, log *zap.Logger) (*Repositories, error) {
	log.Info("inicializando repositórios",
		zap.String("driver", cfg.Storage.Driver),
	)

	repos := &Repositories{}

	if cfg.Redis.Enabled {
		log.Info("inicializando Redis...")
		storeRedis, err := storage_redis.New(cfg.Redis, log)
		if err != nil {
			log.Error("erro ao conectar com Redis", zap.Error(err))
			return nil, err
		}

		rdb := storeRedis.RDB()
		repos.RedisClient = storeRedis
		repos.WebhookQueue = queue_redis.NewQueue(rdb, cfg.Redis.Prefix, cfg.Webhook.QueueSize)
		repos.RateLimiter = limiter_redis.NewLimiter(rdb, cfg.Redis.Prefix)
		guard := guard_redis.NewGuard(rdb, cfg.Redis.Prefix, cfg.Idempotency.TTL)
		repos.Guard = guard
		repos.Cooldown = guard
		log.Info("Redis conectado, fila, limiter e guard configurados")
	} else {
		log.Info("usando implementações em memória (Redis desabilitado)")
		repos.WebhookQueue = queue_memory.NewQueue(cfg.Webhook.QueueSize)
		repos.RateLimiter = limiter_memory.NewLimiter()
		repos.Guard = guard_memory.NewGuard(cfg.Idempotency.TTL)
		repos.Cooldown = guard_memory.NewGuard(cfg.Idempotency.TTL)
	}

	switch cfg.Storage.Driver {
	case "sqlite", "":
		log.Debug("criando conexão com SQLite")
		db, err := sqlite.New(cfg.Storage.DataDir, log)
		if err != nil {
			log.Error("erro ao conectar com SQLite", zap.Error(err))
			_ = repos.Close()
			return nil, err
		}

		repos.Rule = sqlite.NewRuleRepository(db)
		repos.Instance = sqlite.NewInstanceRepository(db)
		repos.ConnectionState = sqlite.NewConnectionStateRepository(db)
		repos.EventLog = sqlite.NewEventLogRepository(db)
		repos.closeDB = db.Close
		repos.pingDB = db.Ping
		log.Info("repositórios SQLite criados com sucesso", zap.String("data_dir", cfg.Storage.DataDir))

	case "postgres":
		log.Debug("criando conexão com PostgreSQL")
		db, err := postgres.New(cfg.DB, log)
		if err != nil {
			log.Error("erro ao conectar com PostgreSQL", zap.Error(err))
			_ = repos.Close()
			return nil, err
		}

		repos.Rule = postgres.NewRuleRepository(db)
		repos.Instance = postgres.NewInstanceRepository(db)
		repos.ConnectionState = postgres.NewConnectionStateRepository(db)
		repos.EventLog = postgres.NewEventLogRepository(db)
		repos.closeDB = func() error {
			db.Close()
			return nil
		}
		repos.pingDB = db.Ping
		log.Info("repositórios PostgreSQL criados com sucesso")

	default:
		log.Error("driver de storage desconhecido",
			zap.String("driver", cfg.Storage.Driver),
		)
		_ = repos.Close()
		return nil, &ErrUnknownDriver{Driver: cfg.Storage.Driver}
	}

	return repos, nil
}

type ErrUnknownDriver struct {
	Driver string
}

func (e *ErrUnknownDriver) Error() string {
	return "storage: driver desconhecido: " + e.Driver
}
