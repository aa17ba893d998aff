package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	domsvc "FinVerdict/internal/domain/service"
)

// CalibrationSettings bound the historical modifier.
type CalibrationSettings struct {
	Table        string
	LookbackDays int
	MinSamples   int
	MinModifier  float64
	MaxModifier  float64
}

// CHCalibrationStore derives a confidence modifier from realised verdict
// outcomes stored in ClickHouse.
type CHCalibrationStore struct {
	db  *sql.DB
	cfg CalibrationSettings
}

// NewCHCalibrationStore creates the store over db.
func NewCHCalibrationStore(db *sql.DB, cfg CalibrationSettings) *CHCalibrationStore {
	if cfg.Table == "" {
		cfg.Table = "verdict_outcomes"
	}
	return &CHCalibrationStore{db: db, cfg: cfg}
}

// CalibrationSchema returns the DDL for the outcomes table.
func CalibrationSchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts          DateTime64(3, 'UTC'),
	verdict_id  String,
	symbol      LowCardinality(String),
	model_id    LowCardinality(String),
	horizon     LowCardinality(String),
	regime      LowCardinality(String),
	action      LowCardinality(String),
	confidence  Float64,
	hit         UInt8
) ENGINE = MergeTree
ORDER BY (symbol, model_id, horizon, ts)
TTL toDateTime(ts) + INTERVAL 365 DAY`, table)}
}

// OutcomeStats aggregates the realised outcomes of one history slice.
type OutcomeStats struct {
	Samples       int64
	HitRate       float64
	AvgConfidence float64
}

func (s *CHCalibrationStore) query(q domsvc.CalibrationQuery) (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT count(), avg(hit), avg(confidence) FROM %s WHERE symbol = ? AND model_id = ? AND horizon = ? AND action != 'HOLD'", s.cfg.Table)
	args := []interface{}{strings.ToUpper(q.Symbol), q.ModelID, strings.ToUpper(q.Horizon)}
	if q.Regime != "" {
		b.WriteString(" AND regime = ?")
		args = append(args, strings.ToUpper(q.Regime))
	}
	if s.cfg.LookbackDays > 0 {
		b.WriteString(" AND ts >= now() - toIntervalDay(?)")
		args = append(args, s.cfg.LookbackDays)
	}
	return b.String(), args
}

// Stats reads the outcome aggregates for q.
func (s *CHCalibrationStore) Stats(ctx context.Context, q domsvc.CalibrationQuery) (OutcomeStats, error) {
	stmt, args := s.query(q)
	var st OutcomeStats
	var hit, conf sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&st.Samples, &hit, &conf); err != nil {
		return OutcomeStats{}, fmt.Errorf("query calibration stats: %w", err)
	}
	st.HitRate = hit.Float64
	st.AvgConfidence = conf.Float64
	return st, nil
}

// GetConfidenceModifier compares the realised hit rate with the confidence
// the model claimed over the same slice.
func (s *CHCalibrationStore) GetConfidenceModifier(ctx context.Context, q domsvc.CalibrationQuery) (domsvc.CalibrationModifier, error) {
	st, err := s.Stats(ctx, q)
	if err != nil {
		return domsvc.CalibrationModifier{Modifier: 1}, err
	}
	return ModifierFromStats(st, s.cfg), nil
}

// ModifierFromStats is hitRate / avgConfidence clamped to
// [MinModifier, MaxModifier]. Thin or degenerate history yields 1.0.
func ModifierFromStats(st OutcomeStats, cfg CalibrationSettings) domsvc.CalibrationModifier {
	if st.Samples < int64(cfg.MinSamples) {
		return domsvc.CalibrationModifier{
			Modifier: 1,
			Notes:    fmt.Sprintf("insufficient history n=%d", st.Samples),
		}
	}
	if st.AvgConfidence <= 0 || math.IsNaN(st.HitRate) || math.IsNaN(st.AvgConfidence) {
		return domsvc.CalibrationModifier{Modifier: 1, Notes: "degenerate history"}
	}
	m := st.HitRate / st.AvgConfidence
	if cfg.MaxModifier > 0 {
		m = math.Min(m, cfg.MaxModifier)
	}
	m = math.Max(m, cfg.MinModifier)
	return domsvc.CalibrationModifier{
		Modifier: m,
		Notes:    fmt.Sprintf("hit_rate=%.3f avg_conf=%.3f n=%d", st.HitRate, st.AvgConfidence, st.Samples),
	}
}

var _ domsvc.CalibrationPort = (*CHCalibrationStore)(nil)
