package gormrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/taoyao-code/vndstream/internal/compliance"
	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
	"github.com/taoyao-code/vndstream/internal/storage"
	"github.com/taoyao-code/vndstream/internal/stream"
)

func TestFromReport(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	rep := &compliance.Report{
		RunID:         "4f1c9a52-0d6e-4a59-9a51-8f1f5b1a2c3d",
		Device:        "bench-1",
		Result:        compliance.Fail,
		FinalState:    compliance.StateStopped,
		StartedAt:     start,
		FinishedAt:    start.Add(2500 * time.Millisecond),
		Duration:      2500 * time.Millisecond,
		LockedSamples: 240,
		Rules: []compliance.RuleResult{
			{ID: "start.reply", Verdict: compliance.Pass},
			{ID: "stream.min_pairs", Verdict: compliance.Fail, Reason: "0 of 1 pairs"},
		},
		Stats: stream.Snapshot{
			Decoder: vnd.Stats{BytesIn: 4096, ChecksumMismatches: 2, Desyncs: 1, DiscardedBytes: 10},
			Pairs:   stream.PairState{PairsCompleted: 0, OrderingViolations: 3},
		},
	}

	run, err := FromReport(rep, "check")
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, run.RunID)
	assert.Equal(t, "check", run.Mode)
	assert.Equal(t, "FAIL", run.Result)
	assert.Equal(t, "stopped", run.FinalState)
	assert.Equal(t, int64(2500), run.DurationMs)
	assert.Equal(t, int32(240), run.LockedSamples)
	assert.Equal(t, int64(3), run.OrderingViolations)
	assert.Equal(t, int64(2), run.ChecksumErrors)
	assert.Equal(t, int64(4096), run.BytesIn)

	require.Len(t, run.Rules, 2)
	assert.Equal(t, int32(1), run.Rules[1].Ordinal)
	assert.Equal(t, "stream.min_pairs", run.Rules[1].RuleID)
	assert.Equal(t, "FAIL", run.Rules[1].Verdict)

	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(run.Report, &back))
	assert.Equal(t, rep.RunID, back["run_id"])
}

func TestTranslateNotFound(t *testing.T) {
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), storage.ErrNotFound)
	assert.ErrorIs(t, translate(fmt.Errorf("query: %w", gorm.ErrRecordNotFound)), storage.ErrNotFound)

	other := errors.New("connection refused")
	assert.Equal(t, other, translate(other))
}
