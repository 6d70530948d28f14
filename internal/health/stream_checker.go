package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/vndstream/internal/stream"
)

// StreamChecker 根据推流状态与解帧/配对计数判断设备健康
type StreamChecker struct {
	streaming         func() bool
	snapshot          func() stream.Snapshot
	maxChecksumErrors uint64
}

func NewStreamChecker(streaming func() bool, snapshot func() stream.Snapshot, maxChecksumErrors uint64) *StreamChecker {
	return &StreamChecker{streaming: streaming, snapshot: snapshot, maxChecksumErrors: maxChecksumErrors}
}

func (c *StreamChecker) Name() string { return "stream" }

func (c *StreamChecker) Check(_ context.Context) CheckResult {
	start := time.Now()
	s := c.snapshot()
	d, p := s.Decoder, s.Pairs
	res := CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]any{
			"session":             s.Session,
			"pairs_completed":     p.PairsCompleted,
			"ordering_violations": p.OrderingViolations,
			"sequence_gaps":       p.SequenceGaps,
			"checksum_errors":     d.ChecksumMismatches,
			"desyncs":             d.Desyncs,
		},
	}
	switch {
	case !c.streaming():
		res.Status = StatusUnhealthy
		res.Message = "device not streaming"
	case p.OrderingViolations > 0:
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("%d ordering violations", p.OrderingViolations)
	case d.ChecksumMismatches > c.maxChecksumErrors:
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("%d checksum errors", d.ChecksumMismatches)
	}
	res.Latency = time.Since(start)
	return res
}
