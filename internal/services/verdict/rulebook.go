package verdict

import (
	"fmt"
	"strconv"
	"strings"

	"FinVerdict/internal/domain/models"
	"FinVerdict/pkg/config"
	"FinVerdict/pkg/logger"
)

// Condition reports whether a rule fires for the snapshot.
type Condition func(models.Snapshot) bool

// Rule is a context-scoped guardrail.
type Rule struct {
	ID       string
	Severity string
	Override *models.Action
	Adjust   *models.RuleAdjust
	Message  string
	When     Condition
}

// Rulebook is an ordered, immutable rule list.
type Rulebook struct {
	rules []Rule
	specs []config.RuleConfig
}

// NewRulebook compiles declarative rule configs. Order is preserved.
func NewRulebook(specs []config.RuleConfig) (*Rulebook, error) {
	rb := &Rulebook{
		rules: make([]Rule, 0, len(specs)),
		specs: append([]config.RuleConfig(nil), specs...),
	}
	for i, spec := range specs {
		r, err := compileRule(spec)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.ID, err)
		}
		rb.rules = append(rb.rules, r)
	}
	return rb, nil
}

// NewRulebookFromRules wraps programmatic rules.
func NewRulebookFromRules(rules ...Rule) *Rulebook {
	rb := &Rulebook{rules: append([]Rule(nil), rules...)}
	for _, r := range rules {
		spec := config.RuleConfig{ID: r.ID, Severity: r.Severity, Message: r.Message}
		if r.Override != nil {
			spec.Override = string(*r.Override)
		}
		if r.Adjust != nil {
			spec.Adjust = &config.AdjustConfig{
				ConfidenceMul: r.Adjust.ConfidenceMul,
				ReturnMul:     r.Adjust.ReturnMul,
				RiskBump:      r.Adjust.RiskBump,
			}
		}
		rb.specs = append(rb.specs, spec)
	}
	return rb
}

// DefaultRulebook is used when no rules are configured.
func DefaultRulebook() *Rulebook {
	rb, err := NewRulebook(DefaultRuleConfigs())
	if err != nil {
		panic(fmt.Sprintf("default rulebook: %v", err))
	}
	return rb
}

// DefaultRuleConfigs returns the built-in guardrails.
func DefaultRuleConfigs() []config.RuleConfig {
	return []config.RuleConfig{
		{
			ID:       "crisis_regime",
			Severity: "CRITICAL",
			When:     config.ConditionConfig{Field: "regime", Op: "in", Value: []interface{}{"CRISIS", "PANIC"}},
			Override: string(models.ActionHold),
			Adjust:   &config.AdjustConfig{RiskBump: 2},
			Message:  "crisis regime, new positions blocked",
		},
		{
			ID:       "high_volatility",
			Severity: "WARN",
			When:     config.ConditionConfig{Field: "volatility", Op: "gt", Value: 0.08},
			Adjust:   &config.AdjustConfig{ConfidenceMul: ptr(0.8), RiskBump: 1},
			Message:  "realised volatility above 8%",
		},
		{
			ID:       "thin_liquidity",
			Severity: "WARN",
			When: config.ConditionConfig{All: []config.ConditionConfig{
				{Field: "volume24h", Op: "gt", Value: 0},
				{Field: "volume24h", Op: "lt", Value: 100000},
			}},
			Adjust:  &config.AdjustConfig{ConfidenceMul: ptr(0.85), ReturnMul: ptr(0.9), RiskBump: 1},
			Message: "24h volume below 100k",
		},
		{
			ID:       "stale_data",
			Severity: "CRITICAL",
			When:     config.ConditionConfig{Field: "dataAgeSec", Op: "gt", Value: 900},
			Override: string(models.ActionHold),
			Message:  "market data older than 15 minutes",
		},
	}
}

// Rules returns a copy of the compiled rules.
func (rb *Rulebook) Rules() []Rule {
	if rb == nil {
		return nil
	}
	return append([]Rule(nil), rb.rules...)
}

// Specs returns the declarative form of the rulebook.
func (rb *Rulebook) Specs() []config.RuleConfig {
	if rb == nil {
		return []config.RuleConfig{}
	}
	return append([]config.RuleConfig{}, rb.specs...)
}

// ApplyRules evaluates every rule against the context once, in order.
// A rule whose condition panics is logged and skipped.
func ApplyRules(vctx *models.VerdictContext, rules []Rule, lgr *logger.Logger) []models.RuleResult {
	results := make([]models.RuleResult, 0, len(rules))
	for _, r := range rules {
		fired, err := evalCondition(r, vctx.Snapshot)
		if err != nil {
			lgr.Warn("rule skipped",
				logger.String("rule", r.ID),
				logger.String("symbol", vctx.Snapshot.Symbol),
				logger.Error(err))
			continue
		}
		if !fired {
			continue
		}
		res := models.RuleResult{
			RuleID:   r.ID,
			Severity: r.Severity,
			Message:  r.Message,
		}
		if r.Override != nil {
			a := *r.Override
			res.OverrideAction = &a
		}
		if r.Adjust != nil {
			adj := *r.Adjust
			res.Adjust = &adj
		}
		results = append(results, res)
	}
	return results
}

func evalCondition(r Rule, snap models.Snapshot) (fired bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("condition panic: %v", rec)
		}
	}()
	if r.When == nil {
		return false, nil
	}
	return r.When(snap), nil
}

func compileRule(spec config.RuleConfig) (Rule, error) {
	if spec.ID == "" {
		return Rule{}, fmt.Errorf("id is required")
	}
	when, err := compileCondition(spec.When)
	if err != nil {
		return Rule{}, err
	}
	r := Rule{
		ID:       spec.ID,
		Severity: spec.Severity,
		Message:  spec.Message,
		When:     when,
	}
	if r.Severity == "" {
		r.Severity = "WARN"
	}
	if spec.Override != "" {
		a := models.Action(strings.ToUpper(spec.Override))
		if !a.Valid() {
			return Rule{}, fmt.Errorf("unknown override action %q", spec.Override)
		}
		r.Override = &a
	}
	if spec.Adjust != nil {
		r.Adjust = &models.RuleAdjust{
			ConfidenceMul: spec.Adjust.ConfidenceMul,
			ReturnMul:     spec.Adjust.ReturnMul,
			RiskBump:      spec.Adjust.RiskBump,
		}
	}
	return r, nil
}

func compileCondition(c config.ConditionConfig) (Condition, error) {
	switch {
	case len(c.All) > 0:
		conds, err := compileConditions(c.All)
		if err != nil {
			return nil, err
		}
		return func(s models.Snapshot) bool {
			for _, cond := range conds {
				if !cond(s) {
					return false
				}
			}
			return true
		}, nil
	case len(c.Any) > 0:
		conds, err := compileConditions(c.Any)
		if err != nil {
			return nil, err
		}
		return func(s models.Snapshot) bool {
			for _, cond := range conds {
				if cond(s) {
					return true
				}
			}
			return false
		}, nil
	}

	field := strings.TrimSpace(c.Field)
	if field == "regime" {
		return compileStringCondition(c.Op, c.Value)
	}
	get, ok := numericFields[field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", c.Field)
	}
	return compileNumericCondition(get, c.Op, c.Value)
}

func compileConditions(cs []config.ConditionConfig) ([]Condition, error) {
	out := make([]Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := compileCondition(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

var numericFields = map[string]func(models.Snapshot) float64{
	"price":      func(s models.Snapshot) float64 { return s.MarketData.Price },
	"volatility": func(s models.Snapshot) float64 { return s.MarketData.Volatility },
	"volume24h":  func(s models.Snapshot) float64 { return s.MarketData.Volume24h },
	"dataAgeSec": func(s models.Snapshot) float64 { return s.MarketData.DataAgeSec },
}

func compileStringCondition(op string, value interface{}) (Condition, error) {
	switch op {
	case "eq", "ne":
		want, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("op %s on regime needs a string value, got %T", op, value)
		}
		neg := op == "ne"
		return func(s models.Snapshot) bool {
			return strings.EqualFold(s.Regime, want) != neg
		}, nil
	case "in":
		list, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("op in needs a list value, got %T", value)
		}
		set := make(map[string]struct{}, len(list))
		for _, v := range list {
			set[strings.ToUpper(fmt.Sprint(v))] = struct{}{}
		}
		return func(s models.Snapshot) bool {
			_, hit := set[strings.ToUpper(s.Regime)]
			return hit
		}, nil
	default:
		return nil, fmt.Errorf("unsupported op %q for regime", op)
	}
}

func compileNumericCondition(get func(models.Snapshot) float64, op string, value interface{}) (Condition, error) {
	if op == "in" {
		list, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("op in needs a list value, got %T", value)
		}
		nums := make([]float64, 0, len(list))
		for _, v := range list {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			nums = append(nums, f)
		}
		return func(s models.Snapshot) bool {
			x := get(s)
			for _, n := range nums {
				if x == n {
					return true
				}
			}
			return false
		}, nil
	}

	want, err := toFloat(value)
	if err != nil {
		return nil, err
	}
	var cmp func(x float64) bool
	switch op {
	case "eq":
		cmp = func(x float64) bool { return x == want }
	case "ne":
		cmp = func(x float64) bool { return x != want }
	case "gt":
		cmp = func(x float64) bool { return x > want }
	case "gte":
		cmp = func(x float64) bool { return x >= want }
	case "lt":
		cmp = func(x float64) bool { return x < want }
	case "lte":
		cmp = func(x float64) bool { return x <= want }
	default:
		return nil, fmt.Errorf("unsupported op %q", op)
	}
	return func(s models.Snapshot) bool {
		x := get(s)
		return finite(x) && cmp(x)
	}, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", v)
	}
}
