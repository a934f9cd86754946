package bdapp

import (
	"github.com/advdv/bdispatch"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a zap logger configured from the environment.
// Uses JSON encoding with ISO8601 timestamps.
// BD_LOG_LEVEL controls the level (debug, info, warn, error).
func NewLogger(env Environment) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(env.logLevel())
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// zapLogger reports the dispatcher's states to zap and counts them.
type zapLogger struct {
	logs    *zap.Logger
	metrics *Metrics
}

// NewZapLogger returns a [bdispatch.Logger] that logs to l and counts every state in m. A nil m counts nothing.
func NewZapLogger(l *zap.Logger, m *Metrics) bdispatch.Logger {
	return zapLogger{logs: l.Named("bdispatch"), metrics: m}
}

func (l zapLogger) count(event string) {
	if l.metrics != nil {
		l.metrics.event(event)
	}
}

func (l zapLogger) LogDispatchFailure(id bdispatch.ConnID, err error) {
	l.count("dispatch_failure")
	l.logs.Warn("dispatch failed", connField(id), kindField(err), zap.Error(err))
}

func (l zapLogger) LogUnobservedFailure(id bdispatch.ConnID, err error) {
	l.count("unobserved_failure")
	l.logs.Error("unobserved deferred failure", connField(id), zap.Error(err))
}

func (l zapLogger) LogSuppressedWrite(id bdispatch.ConnID, err error) {
	l.count("suppressed_write")
	l.logs.Warn("failure after the response was sent", connField(id), zap.Error(err))
}

func (l zapLogger) LogTransportFault(id bdispatch.ConnID, err error) {
	l.count("transport_fault")
	l.logs.Warn("transport fault", connField(id), zap.Error(err))
}

func (l zapLogger) LogLoopFault(err error) {
	l.count("loop_fault")
	l.logs.Error("intake loop fault", zap.Error(err))
}

func (l zapLogger) LogMissingResponse(id bdispatch.ConnID) {
	l.count("missing_response")
	l.logs.Warn("handler returned without responding", connField(id))
}

func (l zapLogger) LogResponseMisuse(id bdispatch.ConnID, op string) {
	l.count("response_misuse")
	l.logs.Warn("response changed after it was sent", connField(id), zap.String("op", op))
}

func connField(id bdispatch.ConnID) zap.Field { return zap.Uint64("conn", uint64(id)) }
func kindField(err error) zap.Field           { return zap.Stringer("kind", bdispatch.KindOf(err)) }
