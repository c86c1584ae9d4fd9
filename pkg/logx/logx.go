package logx

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	lg   *zap.SugaredLogger
	once sync.Once
)

// Init builds the process-wide logger. Level comes from LOG_LEVEL.
func Init() {
	once.Do(func() {
		level := zapcore.InfoLevel
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug":
			level = zapcore.DebugLevel
		case "warn":
			level = zapcore.WarnLevel
		case "error":
			level = zapcore.ErrorLevel
		}

		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.Encoding = "json"
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		z, _ := cfg.Build()
		lg = z.Sugar()
	})
}

func L() *zap.SugaredLogger {
	if lg == nil {
		Init()
	}
	return lg
}

// Named returns a child logger scoped to one component.
func Named(name string) *zap.SugaredLogger {
	return L().Named(name)
}

func Sync() { _ = L().Sync() }
