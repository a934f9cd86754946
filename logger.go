package bdispatch

import (
	"log"
	"sync/atomic"
	"testing"
)

// Logger can be implemented to get informed about important states. Implementations must not block and must
// not panic, they are called from the intake loop and from deferred completions.
type Logger interface {
	LogDispatchFailure(id ConnID, err error)
	LogUnobservedFailure(id ConnID, err error)
	LogSuppressedWrite(id ConnID, err error)
	LogTransportFault(id ConnID, err error)
	LogLoopFault(err error)
	LogMissingResponse(id ConnID)
	LogResponseMisuse(id ConnID, op string)
}

type stdLogger struct{ *log.Logger }

func (l stdLogger) LogDispatchFailure(id ConnID, err error) {
	l.Logger.Printf("bdispatch: dispatch of conn %d failed: %s", id, err)
}

func (l stdLogger) LogUnobservedFailure(id ConnID, err error) {
	l.Logger.Printf("bdispatch: unobserved deferred failure on conn %d: %s", id, err)
}

func (l stdLogger) LogSuppressedWrite(id ConnID, err error) {
	l.Logger.Printf("bdispatch: failure on closed conn %d, write suppressed: %s", id, err)
}

func (l stdLogger) LogTransportFault(id ConnID, err error) {
	l.Logger.Printf("bdispatch: transport fault on conn %d: %s", id, err)
}

func (l stdLogger) LogLoopFault(err error) {
	l.Logger.Printf("bdispatch: intake loop fault: %s", err)
}

func (l stdLogger) LogMissingResponse(id ConnID) {
	l.Logger.Printf("bdispatch: handler for conn %d returned without responding, sending default", id)
}

func (l stdLogger) LogResponseMisuse(id ConnID, op string) {
	l.Logger.Printf("bdispatch: %s on conn %d after headers were sent, ignored", op, id)
}

// NewStdLogger returns a Logger that prints to l. A nil l logs to the standard logger.
func NewStdLogger(l *log.Logger) Logger {
	if l == nil {
		l = log.Default()
	}
	return stdLogger{l}
}

// TestLogger counts every reported state and forwards it to the test log.
type TestLogger struct {
	tb testing.TB

	NumLogDispatchFailure   int64
	NumLogUnobservedFailure int64
	NumLogSuppressedWrite   int64
	NumLogTransportFault    int64
	NumLogLoopFault         int64
	NumLogMissingResponse   int64
	NumLogResponseMisuse    int64
}

func NewTestLogger(tb testing.TB) *TestLogger {
	return &TestLogger{tb: tb}
}

func (l *TestLogger) LogDispatchFailure(id ConnID, err error) {
	atomic.AddInt64(&l.NumLogDispatchFailure, 1)
	l.tb.Logf("bdispatch: dispatch of conn %d failed: %s", id, err)
}

func (l *TestLogger) LogUnobservedFailure(id ConnID, err error) {
	atomic.AddInt64(&l.NumLogUnobservedFailure, 1)
	l.tb.Logf("bdispatch: unobserved deferred failure on conn %d: %s", id, err)
}

func (l *TestLogger) LogSuppressedWrite(id ConnID, err error) {
	atomic.AddInt64(&l.NumLogSuppressedWrite, 1)
	l.tb.Logf("bdispatch: failure on closed conn %d, write suppressed: %s", id, err)
}

func (l *TestLogger) LogTransportFault(id ConnID, err error) {
	atomic.AddInt64(&l.NumLogTransportFault, 1)
	l.tb.Logf("bdispatch: transport fault on conn %d: %s", id, err)
}

func (l *TestLogger) LogLoopFault(err error) {
	atomic.AddInt64(&l.NumLogLoopFault, 1)
	l.tb.Logf("bdispatch: intake loop fault: %s", err)
}

func (l *TestLogger) LogMissingResponse(id ConnID) {
	atomic.AddInt64(&l.NumLogMissingResponse, 1)
	l.tb.Logf("bdispatch: handler for conn %d returned without responding", id)
}

func (l *TestLogger) LogResponseMisuse(id ConnID, op string) {
	atomic.AddInt64(&l.NumLogResponseMisuse, 1)
	l.tb.Logf("bdispatch: %s on conn %d after headers were sent", op, id)
}

// Count returns the value of one of the counters with an atomic load.
func (l *TestLogger) Count(counter *int64) int64 {
	return atomic.LoadInt64(counter)
}

var _ Logger = &TestLogger{}
