package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/progress"
)

// LogSink emits structured debug logs for every transition. It is useful
// when tracing why a track shows a given status.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Debug("transfer transition",
			zap.Int64("track_id", evt.TrackID),
			zap.String("kind", string(evt.Kind)),
			zap.Int("progress", evt.Progress),
			zap.Int64("bytes_downloaded", evt.BytesDownloaded),
			zap.Int64("total_bytes", evt.TotalBytes),
			zap.Time("ts", evt.TS),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
