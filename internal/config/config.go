package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
)

// Version é sobrescrita em build via -ldflags.
var Version = "dev"

type Config struct {
	App         AppConfig
	DB          DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	Storage     StorageConfig
	Webhook     WebhookConfig
	Dispatch    DispatchConfig
	Idempotency IdempotencyConfig
	Provider    ProviderConfig
	Scheduler   SchedulerConfig
	Crypto      CryptoConfig
}

type StorageConfig struct {
	Driver  string `env:"DB_DRIVER" envDefault:"sqlite"`
	DataDir string `env:"DATA_DIR" envDefault:"/app/data"`
}

type AppConfig struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
}

type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"postgres"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
}

// DSN retorna a string de conexão em formato aceito pelo pgxpool.
func (cfg DatabaseConfig) DSN() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"autoreply"`
}

type JWTConfig struct {
	Secret string `env:"JWT_SECRET,required"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"debug"`
	// Format força "json" ou "console"; vazio segue o ambiente.
	Format   string `env:"LOG_FORMAT"`
	Sampling bool   `env:"LOG_SAMPLING" envDefault:"false"`
}

type WebhookConfig struct {
	Workers   int `env:"WEBHOOK_WORKERS" envDefault:"4"`
	QueueSize int `env:"WEBHOOK_QUEUE_SIZE" envDefault:"10000"`
}

// DispatchConfig guarda os valores padrão de envio. Cada instância pode
// sobrescrever MinSendInterval, MaxRetries e BackoffBase.
type DispatchConfig struct {
	MinSendInterval  time.Duration `env:"DISPATCH_MIN_SEND_INTERVAL" envDefault:"8s"`
	MaxRetries       int           `env:"DISPATCH_MAX_RETRIES" envDefault:"3"`
	BackoffBase      time.Duration `env:"DISPATCH_BACKOFF_BASE" envDefault:"1s"`
	BackoffMax       time.Duration `env:"DISPATCH_BACKOFF_MAX" envDefault:"30s"`
	FailureThreshold int           `env:"DISPATCH_FAILURE_THRESHOLD" envDefault:"3"`
	HandleTimeout    time.Duration `env:"DISPATCH_HANDLE_TIMEOUT" envDefault:"5m"`
}

type IdempotencyConfig struct {
	TTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

type ProviderConfig struct {
	APIURL  string        `env:"GREEN_API_URL" envDefault:"https://api.green-api.com"`
	Timeout time.Duration `env:"GREEN_API_TIMEOUT" envDefault:"20s"`
}

type SchedulerConfig struct {
	StatePollInterval time.Duration `env:"STATE_POLL_INTERVAL" envDefault:"5m"`
	EventLogRetention time.Duration `env:"EVENT_LOG_RETENTION" envDefault:"720h"`
}

type CryptoConfig struct {
	SecretKey string `env:"SECRET_KEY" envDefault:"autoreply-secret-key-change-in-production"`
}

// Load carrega as configurações da aplicação.
func Load() Config {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: não foi possível carregar variáveis: %v", err)
	}
	return cfg
}
