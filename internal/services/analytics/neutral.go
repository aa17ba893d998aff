package analytics

import (
	"context"

	"FinVerdict/internal/domain/models"
	domsvc "FinVerdict/internal/domain/service"
)

// NeutralMetaBrain echoes its input.
type NeutralMetaBrain struct{}

func (NeutralMetaBrain) Adjust(_ context.Context, in domsvc.MetaBrainInput) (domsvc.MetaBrainOutput, error) {
	return domsvc.MetaBrainOutput{
		Action:         in.Action,
		ExpectedReturn: in.ExpectedReturn,
		Confidence:     in.Confidence,
		Risk:           in.Risk,
	}, nil
}

// NeutralCalibration always returns modifier 1.0.
type NeutralCalibration struct{}

func (NeutralCalibration) GetConfidenceModifier(context.Context, domsvc.CalibrationQuery) (domsvc.CalibrationModifier, error) {
	return domsvc.CalibrationModifier{Modifier: 1}, nil
}

// NeutralHealth always reports HEALTHY with modifier 1.0.
type NeutralHealth struct{}

func (NeutralHealth) GetHealthModifier(context.Context, domsvc.HealthQuery) (models.HealthResult, error) {
	return models.NeutralHealth(), nil
}

var (
	_ domsvc.MetaBrainPort   = NeutralMetaBrain{}
	_ domsvc.CalibrationPort = NeutralCalibration{}
	_ domsvc.HealthPort      = NeutralHealth{}
)
