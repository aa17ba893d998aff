package models

import "time"

// Action is the trade intent carried by a candidate or verdict.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	default:
		return false
	}
}

// Direction returns +1 for BUY, -1 for SELL and 0 otherwise.
func (a Action) Direction() float64 {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

// Risk is an ordinal caution tier.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

var riskOrder = []Risk{RiskLow, RiskMedium, RiskHigh}

// Ordinal returns 0 for LOW, 1 for MEDIUM and 2 for HIGH. Unknown tiers map to HIGH.
func (r Risk) Ordinal() int {
	for i, v := range riskOrder {
		if v == r {
			return i
		}
	}
	return len(riskOrder) - 1
}

// Bump shifts the tier by n steps, saturating at LOW and HIGH.
func (r Risk) Bump(n int) Risk {
	i := r.Ordinal() + n
	if i < 0 {
		i = 0
	}
	if i >= len(riskOrder) {
		i = len(riskOrder) - 1
	}
	return riskOrder[i]
}

// Max returns the more cautious of the two tiers.
func (r Risk) Max(o Risk) Risk {
	if o.Ordinal() > r.Ordinal() {
		return o
	}
	return r
}

// Valid reports whether r is a known tier.
func (r Risk) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// HealthState is the live shadow-monitor status of a model.
type HealthState string

const (
	HealthHealthy  HealthState = "HEALTHY"
	HealthDegraded HealthState = "DEGRADED"
	HealthCritical HealthState = "CRITICAL"
)

// Stage tags an adjustment with the pipeline stage that produced it.
type Stage string

const (
	StageRules       Stage = "RULES"
	StageMetaBrain   Stage = "META_BRAIN"
	StageCalibration Stage = "CALIBRATION"
)

// DefaultHorizon is reported when no horizon outputs were supplied.
const DefaultHorizon = "7D"

// MarketData is the context-level market state visible to guardrail rules.
type MarketData struct {
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility"`
	Volume24h  float64 `json:"volume24h"`
	DataAgeSec float64 `json:"dataAgeSec"`
}

// Snapshot identifies the asset and moment a verdict is computed for.
type Snapshot struct {
	Symbol     string     `json:"symbol" validate:"required"`
	Timestamp  time.Time  `json:"ts" validate:"required"`
	Regime     string     `json:"regime"`
	MarketData MarketData `json:"marketData"`
}

// HorizonOutput is one raw upstream model prediction.
type HorizonOutput struct {
	Horizon        string  `json:"horizon" validate:"required"`
	ModelID        string  `json:"modelId" validate:"required"`
	ExpectedReturn float64 `json:"expectedReturn"`
	ConfidenceRaw  float64 `json:"confidenceRaw" validate:"gte=0,lte=1"`
}

// Constraints bound what the engine may recommend.
type Constraints struct {
	AllowShort     bool    `json:"allowShort"`
	MaxPositionPct float64 `json:"maxPositionPct" validate:"gte=0,lte=1"`
}

// MetaBrainOptions toggles invariant enforcement for one call.
type MetaBrainOptions struct {
	InvariantsEnabled *bool `json:"invariantsEnabled,omitempty"`
}

// VerdictContext is the immutable input to a single evaluation.
type VerdictContext struct {
	Snapshot    Snapshot          `json:"snapshot"`
	Outputs     []HorizonOutput   `json:"outputs" validate:"dive"`
	Constraints Constraints       `json:"constraints"`
	MetaBrain   *MetaBrainOptions `json:"metaBrain,omitempty"`
}

// InvariantsEnabled is true unless the caller explicitly disabled them.
func (c *VerdictContext) InvariantsEnabled() bool {
	if c.MetaBrain == nil || c.MetaBrain.InvariantsEnabled == nil {
		return true
	}
	return *c.MetaBrain.InvariantsEnabled
}

// RuleAdjust describes the numeric effect of a triggered rule.
type RuleAdjust struct {
	ConfidenceMul *float64 `json:"confidenceMul,omitempty" yaml:"confidence_mul,omitempty"`
	ReturnMul     *float64 `json:"returnMul,omitempty" yaml:"return_mul,omitempty"`
	RiskBump      int      `json:"riskBump,omitempty" yaml:"risk_bump,omitempty"`
}

// RuleResult is a rule that fired against the context.
type RuleResult struct {
	RuleID         string      `json:"ruleId"`
	Severity       string      `json:"severity"`
	OverrideAction *Action     `json:"overrideAction,omitempty"`
	Adjust         *RuleAdjust `json:"adjust,omitempty"`
	Message        string      `json:"message"`
}

// AppliedRule is the audit echo of a RuleResult on a verdict.
type AppliedRule struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// VerdictAdjustment is one append-only audit entry.
type VerdictAdjustment struct {
	Stage           Stage    `json:"stage"`
	Key             string   `json:"key"`
	DeltaConfidence *float64 `json:"deltaConfidence,omitempty"`
	DeltaReturn     *float64 `json:"deltaReturn,omitempty"`
	Notes           string   `json:"notes"`
}

// HealthResult is the shadow-monitor view of one (horizon, model) pair.
type HealthResult struct {
	Modifier       float64     `json:"modifier"`
	State          HealthState `json:"state"`
	ECE            *float64    `json:"ece,omitempty"`
	Divergence     *float64    `json:"divergence,omitempty"`
	CriticalStreak *int        `json:"criticalStreak,omitempty"`
	Notes          string      `json:"notes,omitempty"`
}

// NeutralHealth is the fail-open default.
func NeutralHealth() HealthResult {
	return HealthResult{Modifier: 1.0, State: HealthHealthy}
}

// HorizonCandidate is the per-horizon working result competing for selection.
type HorizonCandidate struct {
	Horizon         string  `json:"horizon"`
	ModelID         string  `json:"modelId"`
	ExpectedReturn  float64 `json:"expectedReturn"`
	Confidence      float64 `json:"confidence"`
	Action          Action  `json:"action"`
	Risk            Risk    `json:"risk"`
	PositionSizePct float64 `json:"positionSizePct"`
	Utility         float64 `json:"utility"`
}

// RawEcho repeats the winner's unadjusted upstream prediction.
type RawEcho struct {
	ExpectedReturn float64 `json:"expectedReturn"`
	ConfidenceRaw  float64 `json:"confidenceRaw"`
}

// Verdict is the single auditable decision produced per evaluation.
type Verdict struct {
	VerdictID       string              `json:"verdictId"`
	Symbol          string              `json:"symbol"`
	Timestamp       time.Time           `json:"ts"`
	Horizon         string              `json:"horizon"`
	Action          Action              `json:"action"`
	ExpectedReturn  float64             `json:"expectedReturn"`
	Confidence      float64             `json:"confidence"`
	Risk            Risk                `json:"risk"`
	PositionSizePct float64             `json:"positionSizePct"`
	Raw             RawEcho             `json:"raw"`
	Adjustments     []VerdictAdjustment `json:"adjustments"`
	AppliedRules    []AppliedRule       `json:"appliedRules"`
	ModelID         string              `json:"modelId"`
	Regime          string              `json:"regime"`
	Health          HealthResult        `json:"health"`
}
