package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/eprints-archiver/internal/progress"
)

// LogSink writes every event to a zap logger. The CLI attaches it to the
// --debug trace so a run can be reconstructed afterwards.
type LogSink struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLogSink logs events at debug level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, level: zapcore.DebugLevel}
}

// Consume logs each event with its non-empty fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Destination != "" {
			fields = append(fields, zap.String("destination", evt.Destination))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.RecordID != 0 {
			fields = append(fields, zap.Int("record", evt.RecordID))
		}
		if evt.Attempt != 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.StatusClass != "" {
			fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome))
		}
		if evt.Count != 0 {
			fields = append(fields, zap.Int64("count", evt.Count))
		}
		if evt.Dur != 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if ce := s.logger.Check(s.level, "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
