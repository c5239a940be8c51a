package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/progress"
)

// LogSink writes each analytics event as a structured log line.
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

// Consume logs the fields relevant to each event kind.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("event", string(evt.Kind)),
			zap.String("workflow_id", evt.WorkflowID),
		}
		if evt.Step != "" {
			fields = append(fields, zap.String("step", string(evt.Step)))
		}
		switch evt.Kind {
		case progress.KindStepRetried:
			fields = append(fields,
				zap.Int("attempt_number", evt.AttemptNumber),
				zap.String("error_type", evt.ErrorType),
				zap.Int64("delay_before_retry_ms", evt.Delay.Milliseconds()),
			)
		case progress.KindStepFailed:
			fields = append(fields,
				zap.Int("total_attempts", evt.TotalAttempts),
				zap.String("final_error_message", evt.ErrorMessage),
			)
		case progress.KindClusteringStarted:
			fields = append(fields, zap.Int("keyword_count", evt.KeywordCount))
		case progress.KindClusteringCompleted, progress.KindStepCompleted:
			fields = append(fields,
				zap.Int("keyword_count", evt.KeywordCount),
				zap.Int("cluster_count", evt.ClusterCount),
				zap.Duration("dur", evt.Dur),
			)
		}
		s.logger.Info("analytics event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
