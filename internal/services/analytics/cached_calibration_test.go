package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domsvc "FinVerdict/internal/domain/service"
	"FinVerdict/pkg/cache"
)

type countingCalibration struct {
	calls int
	mod   float64
	err   error
}

func (c *countingCalibration) GetConfidenceModifier(context.Context, domsvc.CalibrationQuery) (domsvc.CalibrationModifier, error) {
	c.calls++
	if c.err != nil {
		return domsvc.CalibrationModifier{}, c.err
	}
	return domsvc.CalibrationModifier{Modifier: c.mod, Notes: "hit_rate=0.61 n=120"}, nil
}

func newMemory(t *testing.T) *cache.MemoryCache {
	t.Helper()
	mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(16))
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestCachedCalibration_HitSkipsPort(t *testing.T) {
	port := &countingCalibration{mod: 0.9}
	cc := NewCachedCalibration(port, newMemory(t), time.Minute, nil)
	q := domsvc.CalibrationQuery{Symbol: "btc", ModelID: "m1", Horizon: "7d", Regime: "bull"}

	first, err := cc.GetConfidenceModifier(context.Background(), q)
	require.NoError(t, err)
	second, err := cc.GetConfidenceModifier(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, port.calls)

	// Key normalises case.
	q.Symbol = "BTC"
	_, err = cc.GetConfidenceModifier(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, port.calls)
}

func TestCachedCalibration_ErrorsAreNotCached(t *testing.T) {
	port := &countingCalibration{err: errors.New("clickhouse down")}
	mc := newMemory(t)
	cc := NewCachedCalibration(port, mc, time.Minute, nil)
	q := domsvc.CalibrationQuery{Symbol: "ETH", ModelID: "m2", Horizon: "1D"}

	_, err := cc.GetConfidenceModifier(context.Background(), q)
	require.Error(t, err)
	_, err = cc.GetConfidenceModifier(context.Background(), q)
	require.Error(t, err)

	assert.Equal(t, 2, port.calls)
	assert.Equal(t, 0, mc.Len())
}

func TestCalibrationKey(t *testing.T) {
	got := CalibrationKey(domsvc.CalibrationQuery{Symbol: "btc", ModelID: "lstm-v2", Horizon: "7d", Regime: ""})
	assert.Equal(t, "calibration:BTC:lstm-v2:7D:", got)
}
