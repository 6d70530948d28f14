package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
)

var (
	ErrOrderingViolation = errors.New("ordering violation")
	ErrAckTimeout        = errors.New("ack timeout")
	ErrStatusTimeout     = errors.New("status timeout")
	ErrNack              = errors.New("command rejected")
	ErrSessionBusy       = errors.New("session busy")
)

// TimeoutError 等待应答超时
type TimeoutError struct {
	Opcode uint8
	Waited time.Duration
	err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v: %s after %s", e.err, vnd.OpcodeName(e.Opcode), e.Waited)
}

func (e *TimeoutError) Unwrap() error { return e.err }

// ViolationReason 配对违规原因
type ViolationReason string

const (
	ReasonAOutOfTurn        ViolationReason = "a_out_of_turn"
	ReasonBWithoutA         ViolationReason = "b_without_a"
	ReasonBSequenceMismatch ViolationReason = "b_sequence_mismatch"
)

// OrderingViolation A→B 配对契约被破坏（可恢复，跟踪器已自愈）
type OrderingViolation struct {
	Reason   ViolationReason
	Channel  vnd.Channel
	Sequence uint32
	// Reference 违规时持有的 A 序号（HaveReference=false 表示没有）
	Reference     uint32
	HaveReference bool
}

func (v *OrderingViolation) Error() string {
	if v.HaveReference {
		return fmt.Sprintf("%v: %s (channel %s seq=%d, last A seq=%d)", ErrOrderingViolation, v.Reason, v.Channel, v.Sequence, v.Reference)
	}
	return fmt.Sprintf("%v: %s (channel %s seq=%d)", ErrOrderingViolation, v.Reason, v.Channel, v.Sequence)
}

func (v *OrderingViolation) Unwrap() error { return ErrOrderingViolation }
