// Package sinks provides Sink implementations the engine can register
// with an events.Hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/events"
)

// Log writes each event as a structured zap log line. It is registered
// whenever progress.log_enabled is set (the default), alongside any
// other configured sinks.
type Log struct {
	logger *zap.Logger
}

// NewLog constructs a Log sink writing through logger.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Consume implements events.Sink.
func (l *Log) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("type", string(evt.Type)),
			zap.String("crawler_id", evt.CrawlerID),
			zap.Time("ts", evt.TS),
		}
		if evt.Reference != "" {
			fields = append(fields, zap.String("reference", evt.Reference))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Err != nil {
			l.logger.Warn("crawler event", append(fields, zap.Error(evt.Err))...)
			continue
		}
		l.logger.Info("crawler event", fields...)
	}
	return nil
}

// Close implements events.Sink.
func (l *Log) Close(context.Context) error { return nil }
