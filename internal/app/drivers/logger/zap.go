package logger

import (
	"log"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/pkg/constvars"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds the JSON logger shared by every component. Unknown
// levels fall back to info. In production the output is also written to the
// configured log files.
func NewZapLogger(driverConfig *config.DriverConfig, internalConfig *config.InternalConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(driverConfig.Logger.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Development = internalConfig.App.Env == constvars.AppEnvDevelopment
	// Every failed delivery is logged once per attempt; sampling would hide retries.
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	if internalConfig.App.Env == constvars.AppEnvProduction {
		if driverConfig.Logger.OutputFileName != "" {
			cfg.OutputPaths = append(cfg.OutputPaths, driverConfig.Logger.OutputFileName)
		}
		if driverConfig.Logger.OutputErrorFileName != "" {
			cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, driverConfig.Logger.OutputErrorFileName)
		}
	}

	cfg.InitialFields = map[string]interface{}{
		"service": "ipms-mediator",
		"version": internalConfig.App.Version,
		"env":     internalConfig.App.Env,
	}

	zapLogger, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		log.Fatalf("Error while initializing zap logger: %v", err)
	}
	return zapLogger
}
