package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinVerdict/internal/domain/models"
)

func TestEvalCommand(t *testing.T) {
	dir := t.TempDir()
	ctxPath := filepath.Join(dir, "ctx.json")
	require.NoError(t, os.WriteFile(ctxPath, []byte(`{
	  "snapshot": {"symbol": "ETH", "ts": "2024-05-01T00:00:00Z", "regime": "BEAR"},
	  "outputs": [{"horizon": "7D", "modelId": "m1", "expectedReturn": -0.04, "confidenceRaw": 0.75}],
	  "constraints": {"allowShort": true}
	}`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"eval", "--config", filepath.Join(dir, "missing.yaml"), "--file", ctxPath})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())

	var v models.Verdict
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, "ETH", v.Symbol)
	assert.Equal(t, models.ActionSell, v.Action)
	assert.Greater(t, v.PositionSizePct, 0.0)
}

func TestEvalCommand_InvalidContext(t *testing.T) {
	rootCmd.SetIn(strings.NewReader(`{"snapshot":{"ts":"2024-05-01T00:00:00Z"}}`))
	rootCmd.SetArgs([]string{"eval", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--file", "-"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot.symbol")
}
