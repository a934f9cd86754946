package bdapp

import (
	"testing"

	"github.com/advdv/bdispatch"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logs, err := NewLogger(BaseEnvironment{LogLevel: zapcore.WarnLevel})
	require.NoError(t, err)
	require.False(t, logs.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logs.Core().Enabled(zapcore.WarnLevel))
}

func TestZapLogger(t *testing.T) {
	core, obs := observer.New(zapcore.DebugLevel)
	metrics := NewMetrics()
	logs := NewZapLogger(zap.New(core), metrics)

	failure := bdispatch.NewError(bdispatch.CodeNotImplemented, bdispatch.KindResolution, errors.New("nope"))
	logs.LogDispatchFailure(3, failure)
	logs.LogUnobservedFailure(3, errors.New("late"))
	logs.LogSuppressedWrite(3, errors.New("late"))
	logs.LogTransportFault(3, errors.New("reset"))
	logs.LogTransportFault(4, errors.New("reset"))
	logs.LogLoopFault(errors.New("panic"))
	logs.LogMissingResponse(5)
	logs.LogResponseMisuse(5, "SetStatus")

	require.Equal(t, 8, obs.Len())

	entry := obs.FilterMessage("dispatch failed").All()[0]
	require.Equal(t, "bdispatch", entry.LoggerName)
	require.Equal(t, zapcore.WarnLevel, entry.Level)
	require.EqualValues(t, 3, entry.ContextMap()["conn"])
	require.Equal(t, "resolution", entry.ContextMap()["kind"])

	require.Equal(t, "SetStatus", obs.FilterMessage("response changed after it was sent").All()[0].ContextMap()["op"])
	require.Equal(t, zapcore.ErrorLevel, obs.FilterMessage("intake loop fault").All()[0].Level)

	require.InDelta(t, 2, testutil.ToFloat64(metrics.Events.WithLabelValues("transport_fault")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(metrics.Events.WithLabelValues("missing_response")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(metrics.Events.WithLabelValues("loop_fault")), 0)
}

func TestZapLoggerWithoutMetrics(t *testing.T) {
	core, obs := observer.New(zapcore.DebugLevel)
	logs := NewZapLogger(zap.New(core), nil)

	logs.LogMissingResponse(1)
	require.Equal(t, 1, obs.Len())
}
