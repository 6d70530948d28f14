package stream

import "github.com/taoyao-code/vndstream/internal/protocol/vnd"

// PairState 双通道配对状态，每个会话一份
type PairState struct {
	LastASequence      uint32      `json:"last_a_sequence"`
	HaveLastA          bool        `json:"have_last_a"`
	Expecting          vnd.Channel `json:"expecting"`
	PairsCompleted     uint64      `json:"pairs_completed"`
	OrderingViolations uint64      `json:"ordering_violations"`
	SequenceGaps       uint64      `json:"sequence_gaps"`
	LastGap            uint16      `json:"last_gap"`
}

// PairResult 单帧观测结果
type PairResult struct {
	Paired    bool
	Sequence  uint32
	Violation *OrderingViolation
	// Gap 本次配对与上一配对的 16 位序号差，仅在 GapDetected 时有意义
	Gap         uint16
	GapDetected bool
}

// PairTracker 校验 A→B 配对与序号连续性。违规只记录，不中断流。
type PairTracker struct {
	state    PairState
	lastPair uint32
	havePair bool
}

// NewPairTracker 创建跟踪器，初始期待 A
func NewPairTracker() *PairTracker {
	return &PairTracker{state: PairState{Expecting: vnd.ChannelA}}
}

// State 返回状态快照
func (t *PairTracker) State() PairState { return t.state }

// Reset 新会话开始时清零
func (t *PairTracker) Reset() {
	*t = PairTracker{state: PairState{Expecting: vnd.ChannelA}}
}

// Observe 处理一个数据帧
func (t *PairTracker) Observe(f *vnd.DataFrame) PairResult {
	res := PairResult{Sequence: f.Sequence}
	s := &t.state

	if f.Channel == vnd.ChannelA {
		if s.Expecting == vnd.ChannelB {
			res.Violation = t.violation(ReasonAOutOfTurn, f)
		}
		// 无论是否违规，都以本帧为新的参考
		s.LastASequence = f.Sequence
		s.HaveLastA = true
		s.Expecting = vnd.ChannelB
		return res
	}

	if s.Expecting == vnd.ChannelB && s.HaveLastA && f.Sequence == s.LastASequence {
		s.PairsCompleted++
		s.Expecting = vnd.ChannelA
		res.Paired = true
		if t.havePair {
			if gap := uint16(f.Sequence) - uint16(t.lastPair); gap != 1 {
				s.SequenceGaps++
				s.LastGap = gap
				res.Gap = gap
				res.GapDetected = true
			}
		}
		t.lastPair = f.Sequence
		t.havePair = true
		return res
	}

	reason := ReasonBSequenceMismatch
	if s.Expecting != vnd.ChannelB || !s.HaveLastA {
		reason = ReasonBWithoutA
	}
	res.Violation = t.violation(reason, f)
	// 在 B 侧重新同步：丢弃 A 参考，重新等待 A
	s.HaveLastA = false
	s.Expecting = vnd.ChannelA
	return res
}

func (t *PairTracker) violation(reason ViolationReason, f *vnd.DataFrame) *OrderingViolation {
	t.state.OrderingViolations++
	return &OrderingViolation{
		Reason:        reason,
		Channel:       f.Channel,
		Sequence:      f.Sequence,
		Reference:     t.state.LastASequence,
		HaveReference: t.state.HaveLastA,
	}
}
