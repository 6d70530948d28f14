package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
	"github.com/taoyao-code/vndstream/internal/stream"
)

func TestStreamMetricsObserve(t *testing.T) {
	m := NewStreamMetrics(prometheus.NewRegistry())

	m.ObserveRead(100)
	m.ObserveRead(28)
	m.ObserveFrame(&vnd.DataFrame{Channel: vnd.ChannelA})
	m.ObserveFrame(&vnd.DataFrame{Channel: vnd.ChannelB})
	m.ObserveFrame(&vnd.StatusFrame{CurSamples: 240, ProducedSeq: 77})
	m.ObservePair(stream.PairResult{Paired: true, Sequence: 9, GapDetected: true, Gap: 2})
	m.ObservePair(stream.PairResult{Violation: &stream.OrderingViolation{Reason: stream.ReasonBWithoutA}})
	m.ObserveCommand(vnd.GetStatus(), "ok")

	assert.Equal(t, 128.0, testutil.ToFloat64(m.BytesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataFramesTotal.WithLabelValues("B")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PairsTotal))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.LastSequence))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SequenceGaps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderingViolations.WithLabelValues("b_without_a")))
	assert.Equal(t, 240.0, testutil.ToFloat64(m.StatusCurSamples))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("GET_STATUS", "ok")))
}

func TestRegistryGathers(t *testing.T) {
	reg := NewRegistry()
	NewStreamMetrics(reg)
	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
