package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"FinVerdict/internal/domain/models"
)

func TestKellyLite_Size(t *testing.T) {
	k := KellyLite{Fraction: 0.25, OddsScale: 10}

	tests := []struct {
		name     string
		in       SizingInput
		wantSize float64
		wantRaw  float64
	}{
		{
			name:     "healthy low risk",
			in:       SizingInput{Action: models.ActionBuy, Confidence: 0.8, ExpectedReturn: 0.08, Risk: models.RiskLow, Horizon: "7D", Health: models.HealthHealthy, MaxPositionPct: 0.25},
			wantRaw:  0.8 - 0.2/0.8,
			wantSize: (0.8 - 0.2/0.8) * 0.25,
		},
		{
			name:     "critical health and high risk discount",
			in:       SizingInput{Action: models.ActionBuy, Confidence: 0.8, ExpectedReturn: 0.08, Risk: models.RiskHigh, Horizon: "7D", Health: models.HealthCritical, MaxPositionPct: 0.25},
			wantRaw:  0.8 - 0.2/0.8,
			wantSize: (0.8 - 0.2/0.8) * 0.25 * 0.4 * 0.25,
		},
		{
			name:     "short on a bearish forecast with short horizon discount",
			in:       SizingInput{Action: models.ActionSell, Confidence: 0.8, ExpectedReturn: -0.08, Risk: models.RiskMedium, Horizon: "1D", Health: models.HealthDegraded, MaxPositionPct: 0.25},
			wantRaw:  0.8 - 0.2/0.8,
			wantSize: (0.8 - 0.2/0.8) * 0.25 * 0.7 * 0.5 * 0.8,
		},
		{
			name:     "capped at max position",
			in:       SizingInput{Action: models.ActionBuy, Confidence: 1, ExpectedReturn: 0.5, Risk: models.RiskLow, Horizon: "30D", Health: models.HealthHealthy, MaxPositionPct: 0.1},
			wantRaw:  1,
			wantSize: 0.1,
		},
		{
			name:     "non-positive kelly gives nothing",
			in:       SizingInput{Action: models.ActionBuy, Confidence: 0.4, ExpectedReturn: 0.01, Risk: models.RiskHigh, Horizon: "7D", Health: models.HealthHealthy, MaxPositionPct: 0.25},
			wantRaw:  0.4 - 0.6/0.1,
			wantSize: 0,
		},
		{
			name:     "buy against a bearish forecast",
			in:       SizingInput{Action: models.ActionBuy, Confidence: 0.8, ExpectedReturn: -0.05, Risk: models.RiskLow, Horizon: "7D", Health: models.HealthHealthy, MaxPositionPct: 0.25},
			wantRaw:  0,
			wantSize: 0,
		},
		{
			name:     "sell against a bullish forecast",
			in:       SizingInput{Action: models.ActionSell, Confidence: 0.9, ExpectedReturn: 0.05, Risk: models.RiskLow, Horizon: "7D", Health: models.HealthHealthy, MaxPositionPct: 0.25},
			wantRaw:  0,
			wantSize: 0,
		},
		{
			name:     "negligible edge",
			in:       SizingInput{Action: models.ActionBuy, Confidence: 0.9, ExpectedReturn: 0.001, Risk: models.RiskLow, Horizon: "7D", Health: models.HealthHealthy, MaxPositionPct: 0.25},
			wantRaw:  0.9 - 0.1/0.01,
			wantSize: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := k.Size(tt.in)
			assert.InDelta(t, tt.wantRaw, got.KellyRaw, 1e-12)
			assert.InDelta(t, tt.wantSize, got.PositionSizePct, 1e-12)
			assert.NotEmpty(t, got.Notes)
		})
	}
}

func TestKellyLite_SizeGrowsWithEdge(t *testing.T) {
	k := KellyLite{Fraction: 0.25, OddsScale: 10}
	size := func(er float64) float64 {
		return k.Size(SizingInput{Action: models.ActionBuy, Confidence: 0.9, ExpectedReturn: er, Risk: models.RiskLow, Horizon: "7D", Health: models.HealthHealthy, MaxPositionPct: 1}).PositionSizePct
	}

	small, mid, large := size(0.01), size(0.05), size(0.3)
	assert.Zero(t, small)
	assert.InDelta(t, 0.7*0.25, mid, 1e-12)
	assert.Greater(t, large, mid)
}

func TestKellyLite_Deterministic(t *testing.T) {
	k := KellyLite{Fraction: 0.25, OddsScale: 10}
	in := SizingInput{Action: models.ActionBuy, Confidence: 0.66, ExpectedReturn: 0.031, Risk: models.RiskMedium, Horizon: "4H", Health: models.HealthHealthy, MaxPositionPct: 0.25}
	assert.Equal(t, k.Size(in), k.Size(in))
}
