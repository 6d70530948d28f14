package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taoyao-code/vndstream/internal/compliance"
	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
	"github.com/taoyao-code/vndstream/internal/publish"
	"github.com/taoyao-code/vndstream/internal/stream"
	"github.com/taoyao-code/vndstream/internal/transport"
)

// CommandObserver 命令往返结果观测（指标）
type CommandObserver interface {
	ObserveCommand(cmd vnd.Command, result string)
}

// Options burn-in 参数
type Options struct {
	Device         string
	Configure      []vnd.Command
	Duration       time.Duration // 0 表示直到 ctx 取消
	StatusInterval time.Duration
	StatusTimeout  time.Duration
	ReportInterval time.Duration
	PublishEvery   time.Duration
	StartTimeout   time.Duration
	StopTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.StatusInterval <= 0 {
		o.StatusInterval = 2 * time.Second
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = time.Second
	}
	if o.ReportInterval <= 0 {
		o.ReportInterval = time.Second
	}
	if o.PublishEvery <= 0 {
		o.PublishEvery = time.Second
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = time.Second
	}
	return o
}

// Counts 按帧类型累计
type Counts struct {
	A      uint64 `json:"a"`
	B      uint64 `json:"b"`
	Test   uint64 `json:"test"`
	Status uint64 `json:"status"`
}

// Stats 监控期间对外暴露的统计
type Stats struct {
	RunID          string          `json:"run_id"`
	Device         string          `json:"device,omitempty"`
	Streaming      bool            `json:"streaming"`
	StartedAt      time.Time       `json:"started_at"`
	Uptime         time.Duration   `json:"uptime"`
	Frames         Counts          `json:"frames"`
	PairRate       float64         `json:"pair_rate"`
	StatusPolls    uint64          `json:"status_polls"`
	StatusTimeouts uint64          `json:"status_timeouts"`
	Stream         stream.Snapshot `json:"stream"`
}

// Monitor 持续推流观测：周期性 GET_STATUS、进度日志、指标、快照发布，退出时尽力 STOP
type Monitor struct {
	pump      *stream.Pump
	opts      Options
	logger    *zap.Logger
	publisher publish.Publisher
	commands  CommandObserver

	statusLimiter  *rate.Limiter
	reportLimiter  *rate.Limiter
	publishLimiter *rate.Limiter

	mu        sync.RWMutex
	stats     Stats
	lastPairs uint64
	lastAt    time.Time
	started   time.Time

	results map[string]compliance.RuleResult
}

// Option 监控选项
type Option func(*Monitor)

func WithPublisher(p publish.Publisher) Option {
	return func(m *Monitor) {
		if p != nil {
			m.publisher = p
		}
	}
}

func WithCommandObserver(o CommandObserver) Option {
	return func(m *Monitor) { m.commands = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New 创建监控器
func New(p *stream.Pump, opts Options, options ...Option) *Monitor {
	opts = opts.withDefaults()
	m := &Monitor{
		pump:           p,
		opts:           opts,
		logger:         zap.NewNop(),
		publisher:      publish.Nop{},
		statusLimiter:  rate.NewLimiter(rate.Every(opts.StatusInterval), 1),
		reportLimiter:  rate.NewLimiter(rate.Every(opts.ReportInterval), 1),
		publishLimiter: rate.NewLimiter(rate.Every(opts.PublishEvery), 1),
		results:        make(map[string]compliance.RuleResult),
	}
	for _, o := range options {
		o(m)
	}
	m.stats.RunID = uuid.NewString()
	m.stats.Device = opts.Device
	p.OnFrame(m.count)
	return m
}

// Stats 线程安全的统计快照，供 HTTP /stats 使用
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Ready 设备已开始推流
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats.Streaming
}

// Run 配置、启动并观测，直到 Duration 到期或 ctx 取消；传输错误提前结束并返回。
// 任何情况下都会尝试 STOP。
func (m *Monitor) Run(ctx context.Context) (*compliance.Report, error) {
	m.started = m.pump.Now()
	m.lastAt = m.started
	m.mu.Lock()
	m.stats.StartedAt = m.started
	m.mu.Unlock()

	m.logger.Info("monitor started",
		zap.String("run_id", m.stats.RunID),
		zap.Duration("duration", m.opts.Duration),
		zap.Duration("status_interval", m.opts.StatusInterval))

	err := m.run(ctx)
	stopErr := m.stop()
	m.refresh()
	m.publish(context.Background())

	rep := m.report(err, stopErr)
	if err != nil {
		m.logger.Error("monitor aborted", zap.Error(err))
	} else {
		m.logger.Info("monitor finished", zap.String("summary", rep.Summary()))
	}
	return rep, err
}

func (m *Monitor) run(ctx context.Context) error {
	for _, cmd := range m.opts.Configure {
		id := compliance.ConfigureRule(cmd)
		if _, err := m.exchange(ctx, cmd, m.opts.StartTimeout); err != nil {
			if fatal(err) {
				return err
			}
			m.setRule(id, compliance.Fail, err.Error())
			return &commandError{rule: id, err: fmt.Errorf("configure %s: %w", cmd.Name(), err)}
		}
		m.setRule(id, compliance.Pass, "")
	}

	res, err := m.exchange(ctx, vnd.StartStream(), m.opts.StartTimeout)
	if err != nil {
		var te *stream.TimeoutError
		if !errors.As(err, &te) {
			if fatal(err) {
				return err
			}
			m.setRule(compliance.RuleStartReply, compliance.Fail, err.Error())
			return &commandError{rule: compliance.RuleStartReply, err: fmt.Errorf("start: %w", err)}
		}
		// 部分固件不应答 START，只要开始出数据即可
		m.logger.Warn("START not acknowledged, continuing", zap.Error(err))
		m.setRule(compliance.RuleStartReply, compliance.Warn, err.Error())
	} else {
		m.setRule(compliance.RuleStartReply, compliance.Pass, "replied with "+res.Reply.Kind().String())
	}
	m.mu.Lock()
	m.stats.Streaming = true
	m.mu.Unlock()

	var end time.Time
	if m.opts.Duration > 0 {
		end = m.started.Add(m.opts.Duration)
	}
	tick := minDuration(m.opts.StatusInterval, m.opts.ReportInterval, m.opts.PublishEvery)

	for {
		if ctx.Err() != nil {
			return nil
		}
		now := m.pump.Now()
		if !end.IsZero() && !now.Before(end) {
			return nil
		}
		deadline := now.Add(tick)
		if !end.IsZero() && end.Before(deadline) {
			deadline = end
		}
		if _, err := m.pump.RunUntil(ctx, deadline, func() bool { return false }); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := m.periodic(ctx); err != nil {
			return err
		}
	}
}

func (m *Monitor) periodic(ctx context.Context) error {
	now := m.pump.Now()
	if m.statusLimiter.AllowN(now, 1) {
		m.mu.Lock()
		m.stats.StatusPolls++
		m.mu.Unlock()
		if _, err := m.exchange(ctx, vnd.GetStatus(), m.opts.StatusTimeout); err != nil {
			if fatal(err) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			m.mu.Lock()
			m.stats.StatusTimeouts++
			m.mu.Unlock()
			m.logger.Warn("status poll failed", zap.Error(err))
		}
	}
	m.refresh()
	if m.reportLimiter.AllowN(now, 1) {
		m.progress()
	}
	if m.publishLimiter.AllowN(now, 1) {
		m.publish(ctx)
	}
	return nil
}

func (m *Monitor) exchange(ctx context.Context, cmd vnd.Command, timeout time.Duration) (stream.PollResult, error) {
	res, err := m.pump.Exchange(ctx, cmd, timeout)
	if m.commands != nil {
		m.commands.ObserveCommand(cmd, commandResult(err))
	}
	return res, err
}

// stop 尽力发送 STOP，使用独立 ctx 以便取消后仍能执行
func (m *Monitor) stop() error {
	m.mu.Lock()
	m.stats.Streaming = false
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*m.opts.StopTimeout)
	defer cancel()
	_, err := m.exchange(ctx, vnd.StopStream(), m.opts.StopTimeout)
	if err != nil {
		m.logger.Warn("STOP failed", zap.Error(err))
	}
	return err
}

func (m *Monitor) count(f vnd.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch fr := f.(type) {
	case *vnd.DataFrame:
		if fr.Channel == vnd.ChannelA {
			m.stats.Frames.A++
		} else {
			m.stats.Frames.B++
		}
	case *vnd.TestFrame:
		m.stats.Frames.Test++
	case *vnd.StatusFrame:
		m.stats.Frames.Status++
	}
}

func (m *Monitor) refresh() {
	snap := m.pump.Snapshot()
	now := m.pump.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Stream = snap
	m.stats.Uptime = now.Sub(m.started)
	if dt := now.Sub(m.lastAt); dt > 0 {
		m.stats.PairRate = float64(snap.Pairs.PairsCompleted-m.lastPairs) / dt.Seconds()
		m.lastPairs = snap.Pairs.PairsCompleted
		m.lastAt = now
	}
}

func (m *Monitor) progress() {
	s := m.Stats()
	m.logger.Info("stream progress",
		zap.Uint64("pairs", s.Stream.Pairs.PairsCompleted),
		zap.Uint64("a", s.Frames.A),
		zap.Uint64("b", s.Frames.B),
		zap.Uint64("test", s.Frames.Test),
		zap.Uint64("stat", s.Frames.Status),
		zap.Uint64("gaps", s.Stream.Pairs.SequenceGaps),
		zap.Uint64("violations", s.Stream.Pairs.OrderingViolations),
		zap.Uint64("crc_errors", s.Stream.Decoder.ChecksumMismatches),
		zap.Float64("rate", s.PairRate))
}

func (m *Monitor) publish(ctx context.Context) {
	s := m.Stats()
	ev := publish.Event{
		Device: s.Device,
		RunID:  s.RunID,
		Topic:  publish.TopicStats,
		At:     m.pump.Now(),
		Data:   s,
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn("publish stats failed", zap.Error(err))
	}
}

// report 把监控结果整理成与一致性检查相同的报告格式
func (m *Monitor) report(runErr, stopErr error) *compliance.Report {
	s := m.Stats()
	now := m.pump.Now()
	rep := &compliance.Report{
		RunID:      s.RunID,
		Device:     s.Device,
		FinalState: compliance.StateStopped,
		StartedAt:  m.started,
		FinishedAt: now,
		Duration:   now.Sub(m.started),
		Stats:      s.Stream,
	}
	add := func(id string, v compliance.Verdict, reason string) {
		rep.Rules = append(rep.Rules, compliance.RuleResult{ID: id, Verdict: v, Reason: reason})
	}
	recorded := func(id, skipReason string) {
		if rr, ok := m.results[id]; ok {
			rep.Rules = append(rep.Rules, rr)
			return
		}
		add(id, compliance.Skip, skipReason)
	}

	// 配置或 START 被拒时流未开始，后续流规则不评判
	var ce *commandError
	rejected := errors.As(runErr, &ce)

	for _, cmd := range m.opts.Configure {
		recorded(compliance.ConfigureRule(cmd), "not reached")
	}
	if len(m.opts.Configure) == 0 {
		add("configure", compliance.Skip, "no configuration commands")
	}
	recorded(compliance.RuleStartReply, "not reached")

	p := s.Stream.Pairs
	switch {
	case rejected:
		add(compliance.RuleMinPairs, compliance.Skip, "not reached: "+ce.rule+" failed")
	case p.PairsCompleted > 0:
		add(compliance.RuleMinPairs, compliance.Pass, fmt.Sprintf("%d pairs", p.PairsCompleted))
	default:
		add(compliance.RuleMinPairs, compliance.Fail, "no pairs completed")
	}
	if p.OrderingViolations > 0 {
		add(compliance.RuleOrdering, compliance.Fail, fmt.Sprintf("%d ordering violations", p.OrderingViolations))
	} else {
		add(compliance.RuleOrdering, compliance.Pass, "")
	}
	if p.SequenceGaps > 0 {
		add(compliance.RuleSequence, compliance.Warn, fmt.Sprintf("%d gaps, last gap %d", p.SequenceGaps, p.LastGap))
	} else {
		add(compliance.RuleSequence, compliance.Pass, "")
	}
	switch {
	case s.StatusPolls == 0:
		add(compliance.RuleStatusReply, compliance.Skip, "no status polls")
	case s.StatusTimeouts == s.StatusPolls:
		add(compliance.RuleStatusReply, compliance.Fail, fmt.Sprintf("all %d polls failed", s.StatusPolls))
	case s.StatusTimeouts > 0:
		add(compliance.RuleStatusReply, compliance.Warn, fmt.Sprintf("%d of %d polls failed", s.StatusTimeouts, s.StatusPolls))
	default:
		add(compliance.RuleStatusReply, compliance.Pass, fmt.Sprintf("%d polls", s.StatusPolls))
	}
	if stopErr != nil {
		add(compliance.RuleStopReply, compliance.Fail, stopErr.Error())
	} else {
		add(compliance.RuleStopReply, compliance.Pass, "")
	}
	if runErr != nil && !rejected {
		add(compliance.RuleTransport, compliance.Fail, runErr.Error())
	} else {
		add(compliance.RuleTransport, compliance.Pass, "")
	}

	rep.Result = compliance.Pass
	if len(rep.Failures()) > 0 {
		rep.Result = compliance.Fail
	}
	return rep
}

// commandError 设备拒绝或未应答配置、START；归到对应规则而非 transport
type commandError struct {
	rule string
	err  error
}

func (e *commandError) Error() string { return e.err.Error() }

func (e *commandError) Unwrap() error { return e.err }

func (m *Monitor) setRule(id string, v compliance.Verdict, reason string) {
	m.results[id] = compliance.RuleResult{ID: id, Verdict: v, Reason: reason}
}

func commandResult(err error) string {
	var te *stream.TimeoutError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, stream.ErrNack):
		return "nack"
	case errors.As(err, &te):
		return "timeout"
	default:
		return "error"
	}
}

func fatal(err error) bool { return transport.IsFatal(err) }

func minDuration(ds ...time.Duration) time.Duration {
	out := ds[0]
	for _, d := range ds[1:] {
		if d < out {
			out = d
		}
	}
	return out
}
