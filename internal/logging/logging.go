// Package logging provides the structured logging contract used throughout
// openbag, adapting Watermill's logger interface so the recorder, player,
// and transports share one logging abstraction.
package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// Fields represents structured logging key/value pairs.
type Fields map[string]any

// Logger is the minimal logging contract required by openbag components.
type Logger interface {
	With(fields Fields) Logger
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Error(msg string, err error, fields Fields)
	Trace(msg string, fields Fields)
}

var logLevelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogLogger wraps a slog.Logger so it satisfies Logger.
func NewSlogLogger(log *slog.Logger) Logger {
	if log == nil {
		panic("openbag: slog logger cannot be nil")
	}
	return NewWatermillLogger(watermill.NewSlogLoggerWithLevelMapping(log, logLevelMapping))
}

// NewWatermillLogger wraps an existing Watermill LoggerAdapter.
func NewWatermillLogger(logger watermill.LoggerAdapter) Logger {
	if logger == nil {
		panic("openbag: watermill logger cannot be nil")
	}
	return &watermillLogger{inner: logger}
}

type watermillLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillLogger) With(fields Fields) Logger {
	return &watermillLogger{inner: w.inner.With(toWatermillFields(fields))}
}

func (w *watermillLogger) Debug(msg string, fields Fields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillLogger) Info(msg string, fields Fields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillLogger) Error(msg string, err error, fields Fields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillLogger) Trace(msg string, fields Fields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

// ToWatermillAdapter converts a Logger into a watermill.LoggerAdapter so it
// can be handed to transport factories that expect one.
func ToWatermillAdapter(log Logger) watermill.LoggerAdapter {
	if log == nil {
		panic("openbag: Logger cannot be nil")
	}
	return &adapter{base: log}
}

type adapter struct {
	base Logger
}

func (a *adapter) Error(msg string, err error, fields watermill.LogFields) {
	a.base.Error(msg, err, fromWatermillFields(fields))
}

func (a *adapter) Info(msg string, fields watermill.LogFields) {
	a.base.Info(msg, fromWatermillFields(fields))
}

func (a *adapter) Debug(msg string, fields watermill.LogFields) {
	a.base.Debug(msg, fromWatermillFields(fields))
}

func (a *adapter) Trace(msg string, fields watermill.LogFields) {
	a.base.Trace(msg, fromWatermillFields(fields))
}

func (a *adapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &adapter{base: a.base.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields Fields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) Fields {
	if len(fields) == 0 {
		return nil
	}
	return Fields(fields)
}
