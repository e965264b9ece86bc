package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Service string
	Level   string // debug | info | warn | error
	Format  string // json | console
}

// New собирает zap-логгер с полем service.
func New(conf Config) (*zap.Logger, error) {
	var zc zap.Config
	if strings.EqualFold(conf.Format, "console") {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if conf.Level != "" {
		lvl, err := zapcore.ParseLevel(conf.Level)
		if err != nil {
			return nil, fmt.Errorf("logger.New: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logger.New: %w", err)
	}

	service := conf.Service
	if service == "" {
		service = "default"
	}
	return l.With(zap.String("service", service)), nil
}

// Named — логгер компонента с тегом.
func Named(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(component)
}
