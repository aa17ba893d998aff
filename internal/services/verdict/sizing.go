package verdict

import (
	"fmt"
	"math"
	"strings"

	"FinVerdict/internal/domain/models"
)

// SizingInput carries everything the position sizer may look at.
type SizingInput struct {
	Action         models.Action
	Confidence     float64
	ExpectedReturn float64
	Risk           models.Risk
	Horizon        string
	Health         models.HealthState
	MaxPositionPct float64
}

// SizingResult is the bounded position size and the raw Kelly fraction behind it.
type SizingResult struct {
	PositionSizePct float64
	KellyRaw        float64
	Notes           string
}

// PositionSizer turns a candidate into a position-size fraction.
type PositionSizer interface {
	Size(in SizingInput) SizingResult
}

// KellyLite is a fractional Kelly sizer discounted by risk tier, health and horizon.
type KellyLite struct {
	// Fraction of full Kelly to stake.
	Fraction float64
	// OddsScale converts the signed edge into payoff odds: b = edge * OddsScale.
	OddsScale float64
}

var _ PositionSizer = KellyLite{}

var riskMultiplier = map[models.Risk]float64{
	models.RiskLow:    1.0,
	models.RiskMedium: 0.7,
	models.RiskHigh:   0.4,
}

var healthMultiplier = map[models.HealthState]float64{
	models.HealthHealthy:  1.0,
	models.HealthDegraded: 0.5,
	models.HealthCritical: 0.25,
}

func horizonMultiplier(h string) float64 {
	h = strings.ToUpper(strings.TrimSpace(h))
	if h == "1D" || strings.HasSuffix(h, "H") {
		return 0.8
	}
	return 1.0
}

// Size is pure and deterministic. The edge is expectedReturn signed by the
// action, so a position against the forecast is never sized.
func (k KellyLite) Size(in SizingInput) SizingResult {
	maxPct := clamp01(in.MaxPositionPct)
	p := clamp01(in.Confidence)
	edge := in.Action.Direction() * in.ExpectedReturn
	if !finite(edge) || edge <= 0 || k.OddsScale <= 0 {
		return SizingResult{
			Notes: fmt.Sprintf("edge=%.4f for %s, no position", edge, in.Action),
		}
	}
	b := edge * k.OddsScale
	kellyRaw := p - (1-p)/b

	if kellyRaw <= 0 {
		return SizingResult{
			KellyRaw: kellyRaw,
			Notes:    fmt.Sprintf("kelly=%.4f non-positive, no position", kellyRaw),
		}
	}

	riskMul, ok := riskMultiplier[in.Risk]
	if !ok {
		riskMul = riskMultiplier[models.RiskHigh]
	}
	healthMul, ok := healthMultiplier[in.Health]
	if !ok {
		healthMul = 1.0
	}
	horizonMul := horizonMultiplier(in.Horizon)

	size := kellyRaw * k.Fraction * riskMul * healthMul * horizonMul
	size = math.Max(0, math.Min(size, maxPct))

	return SizingResult{
		PositionSizePct: size,
		KellyRaw:        kellyRaw,
		Notes: fmt.Sprintf("kelly=%.4f frac=%.2f risk=%.2f health=%.2f horizon=%.2f cap=%.2f",
			kellyRaw, k.Fraction, riskMul, healthMul, horizonMul, maxPct),
	}
}
