package analytics

import (
	"context"
	"errors"
	"strings"
	"time"

	domsvc "FinVerdict/internal/domain/service"
	"FinVerdict/pkg/cache"
	"FinVerdict/pkg/logger"
)

const calibrationKeyPrefix = "calibration"

// CachedCalibration is a read-through cache in front of a CalibrationPort.
// Port errors are never cached; cache errors fall through to the port.
type CachedCalibration struct {
	next   domsvc.CalibrationPort
	cache  cache.Service
	ttl    time.Duration
	logger *logger.Logger
}

// NewCachedCalibration wraps next with c. A nil logger is allowed.
func NewCachedCalibration(next domsvc.CalibrationPort, c cache.Service, ttl time.Duration, lgr *logger.Logger) *CachedCalibration {
	return &CachedCalibration{next: next, cache: c, ttl: ttl, logger: lgr}
}

// CalibrationKey is the cache key of q.
func CalibrationKey(q domsvc.CalibrationQuery) string {
	return cache.GenerateKey(calibrationKeyPrefix,
		strings.ToUpper(q.Symbol), q.ModelID, strings.ToUpper(q.Horizon), strings.ToUpper(q.Regime))
}

func (c *CachedCalibration) GetConfidenceModifier(ctx context.Context, q domsvc.CalibrationQuery) (domsvc.CalibrationModifier, error) {
	key := CalibrationKey(q)

	var hit domsvc.CalibrationModifier
	err := c.cache.Get(ctx, key, &hit)
	if err == nil {
		return hit, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("calibration cache read failed", logger.String("key", key), logger.Error(err))
	}

	mod, err := c.next.GetConfidenceModifier(ctx, q)
	if err != nil {
		return mod, err
	}
	if err := c.cache.Set(ctx, key, mod, c.ttl); err != nil {
		c.logger.Warn("calibration cache write failed", logger.String("key", key), logger.Error(err))
	}
	return mod, nil
}

var _ domsvc.CalibrationPort = (*CachedCalibration)(nil)
