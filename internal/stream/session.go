package stream

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
)

// Writer 下行写入（bulk-OUT）
type Writer interface {
	Write(p []byte, timeout time.Duration) (int, error)
}

// SessionState 命令会话状态
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionAwaitingAck
	SessionTimedOut
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionAwaitingAck:
		return "awaiting_ack"
	case SessionTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome Poll 的结论
type Outcome int

const (
	// OutcomeNone 当前没有待应答命令
	OutcomeNone Outcome = iota
	// OutcomePending 该帧不满足等待，继续等
	OutcomePending
	// OutcomeSatisfied 收到期望的应答，会话回到 Idle
	OutcomeSatisfied
	// OutcomeNacked 设备拒绝，会话回到 Idle
	OutcomeNacked
)

// PollResult 单帧对等待中命令的影响
type PollResult struct {
	Outcome Outcome
	Opcode  uint8
	Reply   vnd.Frame
	Err     error
}

// Done 等待是否已结束（成功或被拒绝）
func (r PollResult) Done() bool {
	return r.Outcome == OutcomeSatisfied || r.Outcome == OutcomeNacked
}

const defaultWriteTimeout = time.Second

// Session 关联一条在途命令与其应答，同一时刻最多一条
type Session struct {
	w            Writer
	state        SessionState
	pending      vnd.Command
	sentAt       time.Time
	deadline     time.Time
	writeTimeout time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// SessionOption 会话选项
type SessionOption func(*Session)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWriteTimeout 设置 bulk-OUT 写超时
func WithWriteTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithSessionLogger 设置日志
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession 创建命令会话
func NewSession(w Writer, opts ...SessionOption) *Session {
	s := &Session{
		w:            w,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State 当前状态
func (s *Session) State() SessionState { return s.state }

// Pending 返回在途命令
func (s *Session) Pending() (vnd.Command, bool) {
	if s.state != SessionAwaitingAck {
		return vnd.Command{}, false
	}
	return s.pending, true
}

// Deadline 返回在途命令的截止时间
func (s *Session) Deadline() (time.Time, bool) {
	if s.state != SessionAwaitingAck {
		return time.Time{}, false
	}
	return s.deadline, true
}

// Send 编码并写出命令，进入 AwaitingAck
func (s *Session) Send(cmd vnd.Command, timeout time.Duration) error {
	if s.state == SessionAwaitingAck {
		return fmt.Errorf("%w: %s still pending", ErrSessionBusy, s.pending.Name())
	}
	buf := cmd.Encode()
	n, err := s.w.Write(buf, s.writeTimeout)
	if err != nil {
		return fmt.Errorf("send %s: %w", cmd.Name(), err)
	}
	if n != len(buf) {
		return fmt.Errorf("send %s: short write %d/%d", cmd.Name(), n, len(buf))
	}

	now := s.now()
	s.pending = cmd
	s.sentAt = now
	s.deadline = now.Add(timeout)
	s.state = SessionAwaitingAck
	s.logger.Debug("command sent",
		zap.String("cmd", cmd.Name()),
		zap.Binary("payload", cmd.Payload),
		zap.Duration("timeout", timeout))
	return nil
}

// Poll 用解帧器产出的每一帧调用；非应答帧照常走数据路径，不影响等待
func (s *Session) Poll(f vnd.Frame) PollResult {
	if s.state != SessionAwaitingAck {
		return PollResult{Outcome: OutcomeNone}
	}
	op := s.pending.Opcode
	res := PollResult{Outcome: OutcomePending, Opcode: op}
	reply := s.pending.Reply()

	switch fr := f.(type) {
	case *vnd.StatusFrame:
		if reply == vnd.ReplyStatus || reply == vnd.ReplyAckOrStatus {
			res.Outcome = OutcomeSatisfied
		}
	case *vnd.AckFrame:
		if fr.Opcode != op {
			break
		}
		if !fr.Positive {
			res.Outcome = OutcomeNacked
			res.Err = fmt.Errorf("%w: %s", ErrNack, s.pending.Name())
		} else if reply == vnd.ReplyAck || reply == vnd.ReplyAckOrStatus {
			res.Outcome = OutcomeSatisfied
		}
	}

	if res.Done() {
		res.Reply = f
		s.state = SessionIdle
		s.logger.Debug("command answered",
			zap.String("cmd", s.pending.Name()),
			zap.String("reply", f.Kind().String()),
			zap.Bool("positive", res.Outcome == OutcomeSatisfied),
			zap.Duration("latency", s.now().Sub(s.sentAt)))
	}
	return res
}

// Expire 截止时间已过则转入 TimedOut 并返回超时错误，否则返回 nil
func (s *Session) Expire(now time.Time) error {
	if s.state != SessionAwaitingAck || now.Before(s.deadline) {
		return nil
	}
	s.state = SessionTimedOut
	sentinel := ErrAckTimeout
	if s.pending.Reply() == vnd.ReplyStatus {
		sentinel = ErrStatusTimeout
	}
	s.logger.Warn("command timed out", zap.String("cmd", s.pending.Name()))
	return &TimeoutError{Opcode: s.pending.Opcode, Waited: now.Sub(s.sentAt), err: sentinel}
}

// Reset 回到 Idle，调用方可重试
func (s *Session) Reset() {
	s.state = SessionIdle
	s.pending = vnd.Command{}
	s.deadline = time.Time{}
}
