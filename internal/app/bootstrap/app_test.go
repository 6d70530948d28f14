package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/vndstream/internal/compliance"
	cfgpkg "github.com/taoyao-code/vndstream/internal/config"
)

func loadConfig(t *testing.T, body string) *cfgpkg.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vnd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := cfgpkg.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestRunCheckAgainstSimulator(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")
	cfg := loadConfig(t, `
device: {name: sim-1}
transport:
  kind: simulator
  simulator: {sampleCount: 64, blockRate: 400}
compliance:
  minPairs: 5
  expectSamples: 64
  requireTestFrame: true
  setup: {blockRate: 400}
  budgets: {observe: 50ms}
output: {format: json, path: `+out+`}
`)

	rep, err := Run(context.Background(), cfg, "check", &bytes.Buffer{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, compliance.Pass, rep.Result, rep.Summary())
	assert.Equal(t, "sim-1", rep.Device)
	assert.Equal(t, uint16(64), rep.LockedSamples)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var decoded struct {
		RunID  string `json:"run_id"`
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, rep.RunID, decoded.RunID)
	assert.Equal(t, "PASS", decoded.Result)
}

func TestRunMonitorWritesTextToStdout(t *testing.T) {
	cfg := loadConfig(t, `
transport:
  kind: simulator
  simulator: {sampleCount: 32}
monitor:
  duration: 100ms
  statusInterval: 20ms
  reportInterval: 50ms
`)
	var buf bytes.Buffer
	rep, err := Run(context.Background(), cfg, "monitor", &buf, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, rep.Passed(), rep.Summary())
	assert.Equal(t, "simulator", rep.Device)
	assert.Contains(t, buf.String(), rep.RunID)
	assert.Contains(t, buf.String(), "stream.min_pairs")
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := loadConfig(t, "transport: {kind: simulator}\n")
	rep, err := Run(context.Background(), cfg, "flash", &bytes.Buffer{}, zaptest.NewLogger(t))
	assert.Error(t, err)
	assert.Nil(t, rep)
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://vnd:****@db:5432/vnd", maskDSN("postgres://vnd:secret@db:5432/vnd"))
	assert.Equal(t, "host=db", maskDSN("host=db"))
}
