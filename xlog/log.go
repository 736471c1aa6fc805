// Package xlog produces the structured log entries spec.md §7
// requires: "every failure produces a structured log entry
// {level, category, message, data, entityId?} attached to the tick's
// snapshot." Grounded on other_examples' dusk-blockchain mempool
// package, which holds a package-level
// logger.WithFields(logger.Fields{"prefix": "mempool"}) and attaches
// fields per call site; here each component holds its own
// logrus.FieldLogger with a "category" field preset, and also appends
// every entry to a caller-supplied Sink so EnvSnapshot.logs does not
// depend on logrus's own output destination.
package xlog

import (
	"github.com/sirupsen/logrus"

	"github.com/xlnfinance/xln-core/xerrors"
)

// Level mirrors logrus's levels restricted to the ones spec.md's log
// entries use.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is the structured record spec.md §7 attaches to a tick's
// snapshot.
type Entry struct {
	Level    Level          `json:"level"`
	Category string         `json:"category"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
}

// Sink receives every Entry produced through a Logger, independent of
// logrus's own configured output. runtime.Env implements Sink by
// appending to the current tick's EnvSnapshot.logs.
type Sink interface {
	Record(Entry)
}

// Logger binds a category (component name) and an optional sink to a
// logrus.FieldLogger, the way dusk-blockchain's mempool package binds
// "prefix" once at package scope.
type Logger struct {
	category string
	fields   logrus.FieldLogger
	sink     Sink
}

func New(base *logrus.Logger, category string, sink Sink) *Logger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &Logger{
		category: category,
		fields:   base.WithField("category", category),
		sink:     sink,
	}
}

func (l *Logger) emit(level Level, entityID string, msg string, data map[string]any) {
	fields := l.fields
	if entityID != "" {
		fields = fields.WithField("entity_id", entityID)
	}
	if data != nil {
		fields = fields.WithFields(logrus.Fields(data))
	}
	switch level {
	case LevelDebug:
		fields.Debug(msg)
	case LevelWarn:
		fields.Warn(msg)
	case LevelError:
		fields.Error(msg)
	default:
		fields.Info(msg)
	}
	if l.sink != nil {
		l.sink.Record(Entry{Level: level, Category: l.category, Message: msg, Data: data, EntityID: entityID})
	}
}

func (l *Logger) Info(entityID, msg string, data map[string]any)  { l.emit(LevelInfo, entityID, msg, data) }
func (l *Logger) Debug(entityID, msg string, data map[string]any) { l.emit(LevelDebug, entityID, msg, data) }
func (l *Logger) Warn(entityID, msg string, data map[string]any)  { l.emit(LevelWarn, entityID, msg, data) }
func (l *Logger) Error(entityID, msg string, data map[string]any) { l.emit(LevelError, entityID, msg, data) }

// Err logs err at a level derived from its xerrors.Kind fatality:
// Error for fatal kinds (ConsensusDivergence, JBlockForkDetected),
// Warn otherwise.
func (l *Logger) Err(entityID string, err error) {
	if err == nil {
		return
	}
	level := LevelWarn
	if xerrors.IsFatal(err) {
		level = LevelError
	}
	data := map[string]any{"error": err.Error()}
	if kind, ok := xerrors.KindOf(err); ok {
		data["kind"] = string(kind)
	}
	l.emit(level, entityID, err.Error(), data)
}
