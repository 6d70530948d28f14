package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
)

// Reader 上行读取（bulk-IN）；超时返回 0, nil
type Reader interface {
	Read(p []byte, timeout time.Duration) (int, error)
}

// ReadWriter 传输层最小接口
type ReadWriter interface {
	Reader
	Writer
}

// Observer 帧级观测钩子（指标、发布）
type Observer interface {
	ObserveRead(n int)
	ObserveFrame(f vnd.Frame)
	ObservePair(res PairResult)
}

type nopObserver struct{}

func (nopObserver) ObserveRead(int)        {}
func (nopObserver) ObserveFrame(vnd.Frame) {}
func (nopObserver) ObservePair(PairResult) {}

// NopObserver 空实现
func NopObserver() Observer { return nopObserver{} }

// Snapshot 会话计数快照
type Snapshot struct {
	Decoder    vnd.Stats        `json:"decoder"`
	Pairs      PairState        `json:"pairs"`
	LastStatus *vnd.StatusFrame `json:"last_status,omitempty"`
	Session    string           `json:"session"`
}

const (
	defaultReadSize    = 64 * 1024
	defaultReadTimeout = 50 * time.Millisecond
)

// Pump 单协程驱动循环：限时读取 → Feed → 排空 Next → 分发
type Pump struct {
	rw       ReadWriter
	deframer *vnd.Deframer
	tracker  *PairTracker
	session  *Session

	readBuf     []byte
	readTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
	observer    Observer
	handlers    []func(vnd.Frame)
	sessionOpts []SessionOption

	lastStatus *vnd.StatusFrame
	reply      *PollResult
}

// PumpOption 驱动循环选项
type PumpOption func(*Pump)

func WithDeframer(d *vnd.Deframer) PumpOption {
	return func(p *Pump) {
		if d != nil {
			p.deframer = d
		}
	}
}

func WithReadSize(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.readBuf = make([]byte, n)
		}
	}
}

func WithReadTimeout(d time.Duration) PumpOption {
	return func(p *Pump) {
		if d > 0 {
			p.readTimeout = d
		}
	}
}

// WithPumpClock 注入时钟；同时作为会话时钟
func WithPumpClock(now func() time.Time) PumpOption {
	return func(p *Pump) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(l *zap.Logger) PumpOption {
	return func(p *Pump) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithObserver(o Observer) PumpOption {
	return func(p *Pump) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithSessionOptions 透传会话选项
func WithSessionOptions(opts ...SessionOption) PumpOption {
	return func(p *Pump) {
		p.sessionOpts = append(p.sessionOpts, opts...)
	}
}

// NewPump 创建驱动循环
func NewPump(rw ReadWriter, opts ...PumpOption) *Pump {
	p := &Pump{
		rw:          rw,
		deframer:    vnd.NewDeframer(),
		tracker:     NewPairTracker(),
		readBuf:     make([]byte, defaultReadSize),
		readTimeout: defaultReadTimeout,
		now:         time.Now,
		logger:      zap.NewNop(),
		observer:    NopObserver(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.session = NewSession(rw, append([]SessionOption{WithClock(p.now), WithSessionLogger(p.logger)}, p.sessionOpts...)...)
	return p
}

func (p *Pump) Deframer() *vnd.Deframer { return p.deframer }
func (p *Pump) Tracker() *PairTracker   { return p.tracker }
func (p *Pump) Session() *Session       { return p.session }

// Now 驱动循环使用的时钟
func (p *Pump) Now() time.Time { return p.now() }

// OnFrame 注册额外的帧处理函数（在配对与会话之后调用）
func (p *Pump) OnFrame(fn func(vnd.Frame)) {
	if fn != nil {
		p.handlers = append(p.handlers, fn)
	}
}

// LastStatus 最近一次收到的状态块
func (p *Pump) LastStatus() *vnd.StatusFrame { return p.lastStatus }

// Snapshot 返回计数快照
func (p *Pump) Snapshot() Snapshot {
	return Snapshot{
		Decoder:    p.deframer.Stats(),
		Pairs:      p.tracker.State(),
		LastStatus: p.lastStatus,
		Session:    p.session.State().String(),
	}
}

// Step 执行一次限时读取并排空解帧器。传输错误原样返回（会话终止）。
func (p *Pump) Step(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 || timeout > p.readTimeout {
		timeout = p.readTimeout
	}
	n, err := p.rw.Read(p.readBuf, timeout)
	if n > 0 {
		p.observer.ObserveRead(n)
		p.deframer.Feed(p.readBuf[:n])
	}
	if derr := p.Drain(ctx); derr != nil {
		return derr
	}
	return err
}

// Drain 排空已缓冲的帧；两帧之间检查取消
func (p *Pump) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, ok := p.deframer.Next()
		if !ok {
			return nil
		}
		p.route(f)
	}
}

func (p *Pump) route(f vnd.Frame) {
	p.observer.ObserveFrame(f)

	switch fr := f.(type) {
	case *vnd.DataFrame:
		res := p.tracker.Observe(fr)
		p.observer.ObservePair(res)
		if res.Violation != nil {
			p.logger.Warn("pair ordering violation", zap.Error(res.Violation))
		}
		if res.GapDetected {
			p.logger.Debug("sequence gap", zap.Uint32("seq", res.Sequence), zap.Uint16("gap", res.Gap))
		}
		if fr.UnsupportedVersion {
			p.logger.Warn("unsupported frame version", zap.Uint8("version", fr.Version), zap.Uint32("seq", fr.Sequence))
		}
	case *vnd.StatusFrame:
		p.lastStatus = fr
	case *vnd.ChecksumMismatch:
		p.logger.Debug("frame dropped", zap.Error(fr))
	case *vnd.UnrecognizedChunk:
		p.logger.Debug("unrecognized frame", zap.Uint8("flags", fr.Flags), zap.Int("bytes", len(fr.Bytes)))
		if fr.UnsupportedVersion {
			p.logger.Warn("unsupported frame version", zap.Uint8("version", fr.Version), zap.Uint32("seq", fr.Sequence))
		}
	}

	if res := p.session.Poll(f); res.Done() {
		p.reply = &res
	}
	for _, h := range p.handlers {
		h(f)
	}
}

// RunUntil 循环读取直到 done 返回 true 或到达 deadline。
// 返回 done 是否达成；仅传输错误与取消会返回 error。
func (p *Pump) RunUntil(ctx context.Context, deadline time.Time, done func() bool) (bool, error) {
	for {
		if done() {
			return true, nil
		}
		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			return done(), nil
		}
		if err := p.Step(ctx, remaining); err != nil {
			return done(), err
		}
	}
}

// Exchange 发送命令并等待其应答或超时。
// 超时返回 *TimeoutError，设备拒绝返回 ErrNack；两者都把会话留在可重试状态。
func (p *Pump) Exchange(ctx context.Context, cmd vnd.Command, timeout time.Duration) (PollResult, error) {
	p.reply = nil
	if err := p.session.Send(cmd, timeout); err != nil {
		return PollResult{}, err
	}

	deadline, _ := p.session.Deadline()
	_, err := p.RunUntil(ctx, deadline, func() bool { return p.reply != nil })
	if p.reply != nil {
		return *p.reply, p.reply.Err
	}
	if err != nil {
		p.session.Reset()
		return PollResult{Opcode: cmd.Opcode}, err
	}
	terr := p.session.Expire(p.now())
	p.session.Reset()
	return PollResult{Outcome: OutcomePending, Opcode: cmd.Opcode}, terr
}
