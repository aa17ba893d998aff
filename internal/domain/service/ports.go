package service

import (
	"context"

	"FinVerdict/internal/domain/models"
)

// MetaBrainInput is the candidate state handed to invariant enforcement.
type MetaBrainInput struct {
	Action         models.Action   `json:"action"`
	ExpectedReturn float64         `json:"expectedReturn"`
	Confidence     float64         `json:"confidence"`
	Risk           models.Risk     `json:"risk"`
	Snapshot       models.Snapshot `json:"snapshot"`
}

// MetaBrainOutput is the enforced candidate state.
type MetaBrainOutput struct {
	Action         models.Action              `json:"action"`
	ExpectedReturn float64                    `json:"expectedReturn"`
	Confidence     float64                    `json:"confidence"`
	Risk           models.Risk                `json:"risk"`
	Adjustments    []models.VerdictAdjustment `json:"adjustments,omitempty"`
}

// MetaBrainPort enforces cross-model invariants on a candidate.
type MetaBrainPort interface {
	Adjust(ctx context.Context, in MetaBrainInput) (MetaBrainOutput, error)
}

// CalibrationQuery identifies the history slice a modifier is computed for.
type CalibrationQuery struct {
	Symbol  string `json:"symbol"`
	ModelID string `json:"modelId"`
	Horizon string `json:"horizon"`
	Regime  string `json:"regime"`
}

// CalibrationModifier scales confidence by historical credibility.
type CalibrationModifier struct {
	Modifier float64 `json:"modifier"`
	Notes    string  `json:"notes,omitempty"`
}

// CalibrationPort returns a historical credibility modifier.
type CalibrationPort interface {
	GetConfidenceModifier(ctx context.Context, q CalibrationQuery) (CalibrationModifier, error)
}

// HealthQuery identifies the shadow-monitored model.
type HealthQuery struct {
	Horizon string `json:"horizon"`
	ModelID string `json:"modelId"`
}

// HealthPort returns the live shadow-health modifier.
type HealthPort interface {
	GetHealthModifier(ctx context.Context, q HealthQuery) (models.HealthResult, error)
}
