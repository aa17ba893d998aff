package analytics

import (
	"context"
	"fmt"

	"FinVerdict/internal/domain/models"
	domsvc "FinVerdict/internal/domain/service"
)

const metaBrainPath = "/invariants/adjust"

// HTTPMetaBrain enforces invariants through a remote meta-brain service.
type HTTPMetaBrain struct{ base *HTTPServiceBase }

// NewHTTPMetaBrain creates the adapter over base.
func NewHTTPMetaBrain(base *HTTPServiceBase) *HTTPMetaBrain {
	return &HTTPMetaBrain{base: base}
}

type metaBrainResponse struct {
	Action         *models.Action             `json:"action"`
	ExpectedReturn *float64                   `json:"expectedReturn"`
	Confidence     *float64                   `json:"confidence"`
	Risk           *models.Risk               `json:"risk"`
	Adjustments    []models.VerdictAdjustment `json:"adjustments"`
}

// Adjust posts the candidate. Fields the service leaves out keep their input value.
func (m *HTTPMetaBrain) Adjust(ctx context.Context, in domsvc.MetaBrainInput) (domsvc.MetaBrainOutput, error) {
	out := domsvc.MetaBrainOutput{
		Action:         in.Action,
		ExpectedReturn: in.ExpectedReturn,
		Confidence:     in.Confidence,
		Risk:           in.Risk,
	}
	var resp metaBrainResponse
	if err := m.base.PostJSONWithRetry(ctx, metaBrainPath, in, &resp); err != nil {
		return out, fmt.Errorf("meta brain adjust: %w", err)
	}
	if resp.Action != nil {
		out.Action = *resp.Action
	}
	if resp.ExpectedReturn != nil {
		out.ExpectedReturn = *resp.ExpectedReturn
	}
	if resp.Confidence != nil {
		out.Confidence = *resp.Confidence
	}
	if resp.Risk != nil {
		out.Risk = *resp.Risk
	}
	out.Adjustments = resp.Adjustments
	return out, nil
}

var _ domsvc.MetaBrainPort = (*HTTPMetaBrain)(nil)
