package audiocore

import (
	"go.uber.org/zap"
)

// Logger is the minimal structured-logging contract the bridge depends
// on, satisfied by a zap-backed adapter (grounded on the retrieved
// leandrodaf/midi repo's internal/logger package, which wraps zap the
// same way). Kept small and interface-based so callers can substitute
// their own sink, following the teacher's ErrorHandler pattern
// (errors.go in the teacher repo) but logging structurally.
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// NewZapLogger wraps a *zap.Logger (zap.NewProduction() is a reasonable
// default) as a Logger.
func NewZapLogger(z *zap.Logger) Logger {
	return zapLogger{z}
}

type zapLogger struct{ z *zap.Logger }

func (l zapLogger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l zapLogger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l zapLogger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// asyncLog is a bounded, non-blocking relay from the audio thread to a
// background goroutine that owns the actual Logger call. The audio
// thread only ever does a non-blocking channel send (§5: no locking,
// no I/O on the hot path); a full queue silently drops the message
// rather than stall a period.
type asyncLog struct {
	logger Logger
	ch     chan logMsg
	done   chan struct{}
}

type logMsg struct {
	level   zapLevel
	message string
	fields  []zap.Field
}

type zapLevel int

const (
	levelInfo zapLevel = iota
	levelWarn
	levelError
)

func newAsyncLog(logger Logger, buffer int) *asyncLog {
	if buffer <= 0 {
		buffer = 64
	}
	a := &asyncLog{logger: logger, ch: make(chan logMsg, buffer), done: make(chan struct{})}
	go a.run()
	return a
}

func (a *asyncLog) run() {
	for {
		select {
		case m, ok := <-a.ch:
			if !ok {
				return
			}
			switch m.level {
			case levelInfo:
				a.logger.Info(m.message, m.fields...)
			case levelWarn:
				a.logger.Warn(m.message, m.fields...)
			case levelError:
				a.logger.Error(m.message, m.fields...)
			}
		case <-a.done:
			return
		}
	}
}

func (a *asyncLog) infof(msg string, fields ...zap.Field) { a.post(levelInfo, msg, fields) }
func (a *asyncLog) warnf(msg string, fields ...zap.Field) { a.post(levelWarn, msg, fields) }
func (a *asyncLog) errorf(msg string, fields ...zap.Field) { a.post(levelError, msg, fields) }

func (a *asyncLog) post(level zapLevel, msg string, fields []zap.Field) {
	select {
	case a.ch <- logMsg{level: level, message: msg, fields: fields}:
	default:
		// queue full: drop rather than block the caller.
	}
}

func (a *asyncLog) close() {
	close(a.done)
}
