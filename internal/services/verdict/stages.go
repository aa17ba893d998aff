package verdict

import (
	"fmt"
	"slices"

	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/domain/service"
)

// Phase is the position of a candidate in the per-horizon pipeline.
type Phase int

const (
	PhaseRaw Phase = iota
	PhasePostRules
	PhasePostMetaBrain
	PhasePostCalibration
	PhasePostHealth
	PhaseFinal
)

func (p Phase) String() string {
	switch p {
	case PhaseRaw:
		return "RAW"
	case PhasePostRules:
		return "POST_RULES"
	case PhasePostMetaBrain:
		return "POST_METABRAIN"
	case PhasePostCalibration:
		return "POST_CALIBRATION"
	case PhasePostHealth:
		return "POST_HEALTH"
	case PhaseFinal:
		return "FINAL"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Audit keys.
const (
	keyInputSanitised   = "INPUT_SANITISED"
	keyCalibration      = "HISTORICAL_CALIBRATION"
	keyHealth           = "HORIZON_HEALTH"
	keyKelly            = "KELLY_SIZING"
	keyShortDisabled    = "SHORT_DISABLED"
	keyPipelineFailure  = "PIPELINE_FAILURE"
	keyMetaBrainDefault = "META_BRAIN_ADJUST"
)

// state is the per-candidate value threaded through the pipeline. Every
// transition takes a state by value and returns the next one; slices are
// clipped before append so earlier states are never mutated.
type state struct {
	Phase Phase

	Horizon string
	ModelID string
	Raw     models.RawEcho

	ExpectedReturn float64
	Confidence     float64
	Action         models.Action
	Risk           models.Risk

	// actionLocked is set by a rule override or a meta-brain action change;
	// the final re-derivation keeps a locked action.
	actionLocked bool
	// riskBump is the net rule shift, reapplied whenever risk is re-derived.
	riskBump int
	// riskFloor is the most cautious tier imposed by the meta-brain or a failure.
	riskFloor models.Risk

	Health          models.HealthResult
	PositionSizePct float64
	KellyRaw        float64
	Utility         float64

	Adjustments  []models.VerdictAdjustment
	AppliedRules []models.AppliedRule
}

func (s state) withAdjustment(a models.VerdictAdjustment) state {
	s.Adjustments = append(slices.Clip(s.Adjustments), a)
	return s
}

func (s state) tag(notes string) string {
	return fmt.Sprintf("[%s] %s", s.Horizon, notes)
}

// newRawState builds the RAW state and the base decision from an upstream output.
func newRawState(out models.HorizonOutput, th Thresholds) state {
	s := state{
		Phase:        PhaseRaw,
		Horizon:      out.Horizon,
		ModelID:      out.ModelID,
		Raw:          models.RawEcho{ExpectedReturn: out.ExpectedReturn, ConfidenceRaw: out.ConfidenceRaw},
		riskFloor:    models.RiskLow,
		Health:       models.NeutralHealth(),
		Adjustments:  []models.VerdictAdjustment{},
		AppliedRules: []models.AppliedRule{},
	}

	er := out.ExpectedReturn
	if !finite(er) {
		er = 0
	}
	conf := clamp01(out.ConfidenceRaw)
	if conf != out.ConfidenceRaw || er != out.ExpectedReturn {
		s = s.withAdjustment(models.VerdictAdjustment{
			Stage: models.StageRules,
			Key:   keyInputSanitised,
			Notes: s.tag(fmt.Sprintf("raw expectedReturn=%v confidence=%v sanitised", out.ExpectedReturn, out.ConfidenceRaw)),
		})
	}

	s.ExpectedReturn = er
	s.Confidence = conf
	s.Action = decide(er, conf, th)
	s.Risk = deriveRisk(er, conf)
	return s
}

// applyRuleResults scales the candidate by every triggered rule in order,
// re-derives action and risk, bumps risk, then applies the last override.
func applyRuleResults(s state, results []models.RuleResult, th Thresholds) state {
	var override *models.Action
	bump := 0

	for _, r := range results {
		s.AppliedRules = append(slices.Clip(s.AppliedRules), models.AppliedRule{
			ID:       r.RuleID,
			Severity: r.Severity,
			Message:  r.Message,
		})
		if r.OverrideAction != nil {
			override = r.OverrideAction
		}
		if r.Adjust == nil {
			continue
		}

		adj := models.VerdictAdjustment{Stage: models.StageRules, Key: r.RuleID, Notes: s.tag(r.Message)}
		if m := r.Adjust.ConfidenceMul; m != nil && finite(*m) {
			next := clamp01(s.Confidence * *m)
			adj.DeltaConfidence = ptr(next - s.Confidence)
			s.Confidence = next
		}
		if m := r.Adjust.ReturnMul; m != nil && finite(*m) {
			next := s.ExpectedReturn * *m
			adj.DeltaReturn = ptr(next - s.ExpectedReturn)
			s.ExpectedReturn = next
		}
		bump += r.Adjust.RiskBump
		s = s.withAdjustment(adj)
	}

	s.Action = decide(s.ExpectedReturn, s.Confidence, th)
	s.riskBump = bump
	s.Risk = deriveRisk(s.ExpectedReturn, s.Confidence).Bump(bump)
	if override != nil {
		s.Action = *override
		s.actionLocked = true
	}
	s.Phase = PhasePostRules
	return s
}

func metaBrainInput(s state, snap models.Snapshot) service.MetaBrainInput {
	return service.MetaBrainInput{
		Action:         s.Action,
		ExpectedReturn: s.ExpectedReturn,
		Confidence:     s.Confidence,
		Risk:           s.Risk,
		Snapshot:       snap,
	}
}

// applyMetaBrain adopts the enforced values. Invalid fields in out are ignored.
func applyMetaBrain(s state, out service.MetaBrainOutput) state {
	prevConf, prevER := s.Confidence, s.ExpectedReturn

	if out.Action.Valid() && out.Action != s.Action {
		s.Action = out.Action
		s.actionLocked = true
	}
	if finite(out.ExpectedReturn) {
		s.ExpectedReturn = out.ExpectedReturn
	}
	if finite(out.Confidence) {
		s.Confidence = clamp01(out.Confidence)
	}
	if out.Risk.Valid() {
		s.Risk = out.Risk
		s.riskFloor = s.riskFloor.Max(out.Risk)
	}

	for _, a := range out.Adjustments {
		if a.Stage == "" {
			a.Stage = models.StageMetaBrain
		}
		a.Notes = s.tag(a.Notes)
		s = s.withAdjustment(a)
	}

	dConf, dER := s.Confidence-prevConf, s.ExpectedReturn-prevER
	if len(out.Adjustments) == 0 && (significant(dConf) || significant(dER)) {
		adj := models.VerdictAdjustment{
			Stage: models.StageMetaBrain,
			Key:   keyMetaBrainDefault,
			Notes: s.tag("invariant enforcement"),
		}
		if significant(dConf) {
			adj.DeltaConfidence = ptr(dConf)
		}
		if significant(dER) {
			adj.DeltaReturn = ptr(dER)
		}
		s = s.withAdjustment(adj)
	}

	s.Phase = PhasePostMetaBrain
	return s
}

// skipMetaBrain advances the phase without touching the candidate.
func skipMetaBrain(s state) state {
	s.Phase = PhasePostMetaBrain
	return s
}

// applyCalibration scales confidence by the historical modifier.
func applyCalibration(s state, mod service.CalibrationModifier) state {
	s.Phase = PhasePostCalibration
	if !finite(mod.Modifier) || mod.Modifier < 0 {
		return s
	}
	next := clamp01(s.Confidence * mod.Modifier)
	delta := next - s.Confidence
	s.Confidence = next
	if significant(delta) {
		notes := fmt.Sprintf("modifier=%.4f", mod.Modifier)
		if mod.Notes != "" {
			notes += " " + mod.Notes
		}
		s = s.withAdjustment(models.VerdictAdjustment{
			Stage:           models.StageCalibration,
			Key:             keyCalibration,
			DeltaConfidence: ptr(delta),
			Notes:           s.tag(notes),
		})
	}
	return s
}

// applyHealth scales confidence by the shadow-health modifier and records
// the result verbatim.
func applyHealth(s state, h models.HealthResult) state {
	s.Phase = PhasePostHealth
	s.Health = h
	if !finite(h.Modifier) || h.Modifier < 0 {
		return s
	}
	next := clamp01(s.Confidence * h.Modifier)
	delta := next - s.Confidence
	s.Confidence = next
	if significant(delta) {
		notes := fmt.Sprintf("state=%s modifier=%.4f", h.State, h.Modifier)
		if h.Notes != "" {
			notes += " " + h.Notes
		}
		s = s.withAdjustment(models.VerdictAdjustment{
			Stage:           models.StageCalibration,
			Key:             keyHealth,
			DeltaConfidence: ptr(delta),
			Notes:           s.tag(notes),
		})
	}
	return s
}

// finalize re-derives action and risk, enforces the short constraint, sizes
// the position and scores the candidate.
func finalize(s state, th Thresholds, c models.Constraints, maxPositionPct float64, sizer PositionSizer) state {
	if !s.actionLocked {
		s.Action = decide(s.ExpectedReturn, s.Confidence, th)
	}
	s.Risk = deriveRisk(s.ExpectedReturn, s.Confidence).Bump(s.riskBump).Max(s.riskFloor)

	if s.Action == models.ActionSell && !c.AllowShort {
		s.Action = models.ActionHold
		s = s.withAdjustment(models.VerdictAdjustment{
			Stage: models.StageRules,
			Key:   keyShortDisabled,
			Notes: s.tag("short selling not allowed, SELL downgraded to HOLD"),
		})
	}

	s.PositionSizePct = 0
	s.KellyRaw = 0
	if s.Action != models.ActionHold {
		res := sizer.Size(SizingInput{
			Action:         s.Action,
			Confidence:     s.Confidence,
			ExpectedReturn: s.ExpectedReturn,
			Risk:           s.Risk,
			Horizon:        s.Horizon,
			Health:         s.Health.State,
			MaxPositionPct: maxPositionPct,
		})
		s.KellyRaw = res.KellyRaw
		s.PositionSizePct = clampSize(res.PositionSizePct, maxPositionPct)
		if res.KellyRaw > 0 {
			s = s.withAdjustment(models.VerdictAdjustment{
				Stage: models.StageCalibration,
				Key:   keyKelly,
				Notes: s.tag(res.Notes),
			})
		}
	}

	s.Utility = ComputeUtility(s.candidate())
	s.Phase = PhaseFinal
	return s
}

// degraded is the HOLD/HIGH stand-in for a horizon whose pipeline failed.
func degraded(out models.HorizonOutput, reason string) state {
	s := state{
		Phase:        PhaseFinal,
		Horizon:      out.Horizon,
		ModelID:      out.ModelID,
		Raw:          models.RawEcho{ExpectedReturn: out.ExpectedReturn, ConfidenceRaw: out.ConfidenceRaw},
		Action:       models.ActionHold,
		Risk:         models.RiskHigh,
		riskFloor:    models.RiskHigh,
		Health:       models.NeutralHealth(),
		AppliedRules: []models.AppliedRule{},
	}
	s = s.withAdjustment(models.VerdictAdjustment{
		Stage: models.StageRules,
		Key:   keyPipelineFailure,
		Notes: s.tag(reason),
	})
	s.Utility = ComputeUtility(s.candidate())
	return s
}

func (s state) candidate() models.HorizonCandidate {
	return models.HorizonCandidate{
		Horizon:         s.Horizon,
		ModelID:         s.ModelID,
		ExpectedReturn:  s.ExpectedReturn,
		Confidence:      s.Confidence,
		Action:          s.Action,
		Risk:            s.Risk,
		PositionSizePct: s.PositionSizePct,
		Utility:         s.Utility,
	}
}

// clampSize bounds a size to [0, limit]; NaN maps to 0.
func clampSize(x, limit float64) float64 {
	if !finite(x) || x < 0 {
		return 0
	}
	if x > limit {
		return limit
	}
	return x
}
