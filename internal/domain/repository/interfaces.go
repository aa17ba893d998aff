package repository

import (
	"context"
	"time"

	"FinVerdict/internal/domain/models"
)

// VerdictPublisher ships produced verdicts to downstream consumers.
type VerdictPublisher interface {
	Publish(ctx context.Context, v *models.Verdict) error
	Close() error
}

// VerdictBroadcaster fans verdicts out to live subscribers.
type VerdictBroadcaster interface {
	Broadcast(v *models.Verdict)
}

// Metrics records engine and service level telemetry.
type Metrics interface {
	RecordEvaluation(action models.Action, d time.Duration)
	RecordPortFailure(port string)
	RecordPipelineFailure(horizon string)
	RecordFallbackSelection()
	RecordPublish(backend string, err error)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordEvaluation(models.Action, time.Duration) {}
func (NopMetrics) RecordPortFailure(string)                      {}
func (NopMetrics) RecordPipelineFailure(string)                  {}
func (NopMetrics) RecordFallbackSelection()                      {}
func (NopMetrics) RecordPublish(string, error)                   {}
