package analytics

import (
	"context"
	"fmt"

	"FinVerdict/internal/domain/models"
	domsvc "FinVerdict/internal/domain/service"
)

const shadowHealthPath = "/shadow/health"

// HTTPShadowMonitor reads live horizon health from the shadow monitor service.
type HTTPShadowMonitor struct{ base *HTTPServiceBase }

// NewHTTPShadowMonitor creates the adapter over base.
func NewHTTPShadowMonitor(base *HTTPServiceBase) *HTTPShadowMonitor {
	return &HTTPShadowMonitor{base: base}
}

type shadowHealthResponse struct {
	Modifier       *float64           `json:"modifier"`
	State          models.HealthState `json:"state"`
	ECE            *float64           `json:"ece"`
	Divergence     *float64           `json:"divergence"`
	CriticalStreak *int               `json:"criticalStreak"`
	Notes          string             `json:"notes"`
}

// GetHealthModifier returns the monitor's view. A missing modifier reads as
// 1.0 and a missing state as HEALTHY.
func (s *HTTPShadowMonitor) GetHealthModifier(ctx context.Context, q domsvc.HealthQuery) (models.HealthResult, error) {
	var resp shadowHealthResponse
	if err := s.base.PostJSONWithRetry(ctx, shadowHealthPath, q, &resp); err != nil {
		return models.NeutralHealth(), fmt.Errorf("shadow health: %w", err)
	}

	res := models.NeutralHealth()
	if resp.Modifier != nil {
		res.Modifier = *resp.Modifier
	}
	switch resp.State {
	case models.HealthHealthy, models.HealthDegraded, models.HealthCritical:
		res.State = resp.State
	case "":
	default:
		return models.NeutralHealth(), fmt.Errorf("shadow health: unknown state %q", resp.State)
	}
	res.ECE = resp.ECE
	res.Divergence = resp.Divergence
	res.CriticalStreak = resp.CriticalStreak
	res.Notes = resp.Notes
	return res, nil
}

var _ domsvc.HealthPort = (*HTTPShadowMonitor)(nil)
