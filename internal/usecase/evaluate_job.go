package usecase

import (
	"context"
	"fmt"

	"FinVerdict/internal/domain/models"
	xhttp "FinVerdict/pkg/http"
	"FinVerdict/pkg/logger"
	"FinVerdict/pkg/queue"
)

// JobTypeEvaluate is the queue message type carrying a VerdictContext.
const JobTypeEvaluate = "verdict.evaluate"

// EvaluateJob evaluates queued contexts. Invalid payloads are dropped;
// a failed publication is returned so the queue retries the message.
type EvaluateJob struct {
	svc    *VerdictService
	logger *logger.Logger
}

// NewEvaluateJob creates the job.
func NewEvaluateJob(svc *VerdictService, lgr *logger.Logger) *EvaluateJob {
	return &EvaluateJob{svc: svc, logger: lgr}
}

func (j *EvaluateJob) Name() string { return "evaluate_verdict" }

func (j *EvaluateJob) Type() string { return JobTypeEvaluate }

func (j *EvaluateJob) Handle(ctx context.Context, payload interface{}) error {
	vctx, err := queue.ParsePayload[models.VerdictContext](payload)
	if err != nil {
		j.logger.Error("drop undecodable verdict job", logger.Error(err))
		return nil
	}
	if err := xhttp.ValidationErrors(xhttp.ValidateStruct(ctx, vctx)); err != nil {
		j.logger.Error("drop invalid verdict job",
			logger.String("symbol", vctx.Snapshot.Symbol),
			logger.Error(err))
		return nil
	}

	v, err := j.svc.Evaluate(ctx, vctx)
	if err != nil {
		return fmt.Errorf("verdict %s: %w", v.VerdictID, err)
	}
	return nil
}

var _ queue.Job = (*EvaluateJob)(nil)
