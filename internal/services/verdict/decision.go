package verdict

import (
	"math"

	"FinVerdict/internal/domain/models"
)

// Thresholds gate the base BUY/SELL/HOLD decision.
type Thresholds struct {
	MinConfidence float64
	MinEdge       float64
}

const (
	lowRiskConfidence    = 0.7
	mediumRiskConfidence = 0.5
	// Returns this large are never LOW risk regardless of confidence.
	extremeReturn = 0.2

	negligibleDelta = 1e-6
)

// decide maps an (expectedReturn, confidence) pair onto an action.
func decide(expectedReturn, confidence float64, th Thresholds) models.Action {
	switch {
	case confidence < th.MinConfidence:
		return models.ActionHold
	case expectedReturn >= th.MinEdge:
		return models.ActionBuy
	case expectedReturn <= -th.MinEdge:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

// deriveRisk maps confidence onto a tier, floored at MEDIUM for extreme returns.
func deriveRisk(expectedReturn, confidence float64) models.Risk {
	var r models.Risk
	switch {
	case confidence >= lowRiskConfidence:
		r = models.RiskLow
	case confidence >= mediumRiskConfidence:
		r = models.RiskMedium
	default:
		r = models.RiskHigh
	}
	if math.Abs(expectedReturn) > extremeReturn {
		r = r.Max(models.RiskMedium)
	}
	return r
}

// clamp01 bounds x to [0,1]; NaN maps to 0.
func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func significant(delta float64) bool {
	return math.Abs(delta) > negligibleDelta
}

func ptr(v float64) *float64 { return &v }
