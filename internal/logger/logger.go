package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/open-apime/autoreply/internal/config"
)

// New cria o logger da aplicação. Em development o padrão é console colorido;
// nos demais ambientes, JSON. cfg.Format sobrepõe o padrão.
func New(env string, cfg config.LogConfig) (*zap.Logger, error) {
	zcfg, err := buildConfig(env, cfg)
	if err != nil {
		return nil, err
	}
	return zcfg.Build(zap.Fields(
		zap.String("service", "autoreply"),
		zap.String("version", config.Version),
	))
}

func buildConfig(env string, cfg config.LogConfig) (zap.Config, error) {
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
		if env == "development" {
			format = "console"
		}
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "time"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeCaller = zapcore.ShortCallerEncoder

	switch format {
	case "json":
	case "console":
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return zap.Config{}, fmt.Errorf("logger: formato desconhecido %q", cfg.Format)
	}

	zcfg := zap.Config{
		Encoding:         format,
		Level:            zap.NewAtomicLevelAt(parseLevel(cfg.Level)),
		Development:      env == "development",
		EncoderConfig:    encoder,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	// Rajadas de webhooks repetem as mesmas mensagens; a amostragem limita o
	// volume sem perder a primeira ocorrência de cada uma.
	if cfg.Sampling {
		zcfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	return zcfg, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
