// Package logger is the concrete flowtrace.Logger binding, backing the
// dispatcher's diagnostic surface with go.uber.org/zap the way the
// teacher's observability/otel provider backs its own Logger interface.
package logger

import (
	"os"

	"github.com/flowtrace-go/flowtrace/pkg/flowtrace"
	"github.com/flowtrace-go/flowtrace/pkg/vos"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	logger *zap.Logger
}

// New builds a flowtrace.Logger backed by a production zap.Logger,
// tagged with host.name and a fresh service.instance.id the way the
// teacher's NewLogger does for its OTEL-adjacent logging.
func New() (flowtrace.Logger, error) {
	hostname, _ := os.Hostname()
	instanceID, _ := vos.NewUUID()

	cfg := zap.Config{
		Encoding:         "json",
		Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]interface{}{
			"host.name":           hostname,
			"service.instance.id": instanceID.String(),
		},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:  "message",
			TimeKey:     "time",
			LevelKey:    "severity",
			EncodeTime:  zapcore.ISO8601TimeEncoder,
			EncodeLevel: zapcore.CapitalLevelEncoder,
		},
	}

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{logger: zl}, nil
}

func (l *zapLogger) Debug(msg string, fields ...flowtrace.Field) {
	l.logger.Debug(msg, toZapFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...flowtrace.Field) {
	l.logger.Info(msg, toZapFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields ...flowtrace.Field) {
	l.logger.Warn(msg, toZapFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...flowtrace.Field) {
	l.logger.Error(msg, toZapFields(fields)...)
}

func toZapFields(fields []flowtrace.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}
