package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is the common shape of a domain log line across services.
type Fields struct {
	OrderID    int64
	ProductID  int64
	EventID    string
	Step       string
	Status     string
	DurationMS int64
	Message    string
}

// New builds a JSON logger that stamps every entry with the service name.
func New(service, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", service)), nil
}

func Log(logger *zap.Logger, f Fields) {
	logger.Info(f.Message, f.zap()...)
}

func Warn(logger *zap.Logger, f Fields, err error) {
	logger.Warn(f.Message, append(f.zap(), zap.Error(err))...)
}

func (f Fields) zap() []zap.Field {
	out := make([]zap.Field, 0, 6)
	if f.OrderID != 0 {
		out = append(out, zap.Int64("order_id", f.OrderID))
	}
	if f.ProductID != 0 {
		out = append(out, zap.Int64("product_id", f.ProductID))
	}
	if f.EventID != "" {
		out = append(out, zap.String("event_id", f.EventID))
	}
	if f.Step != "" {
		out = append(out, zap.String("step", f.Step))
	}
	if f.Status != "" {
		out = append(out, zap.String("status", f.Status))
	}
	if f.DurationMS != 0 {
		out = append(out, zap.Int64("duration_ms", f.DurationMS))
	}
	return out
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
