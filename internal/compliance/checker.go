package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
	"github.com/taoyao-code/vndstream/internal/stream"
	"github.com/taoyao-code/vndstream/internal/transport"
)

// State 检查器状态机
type State string

const (
	StateIdle            State = "idle"
	StateConfiguring     State = "configuring"
	StateStarted         State = "started"
	StateObservingPairs  State = "observing_pairs"
	StateStatusRequested State = "status_requested"
	StateStatusConfirmed State = "status_confirmed"
	StateStopping        State = "stopping"
	StateStopped         State = "stopped"
)

// 规则 ID
const (
	RuleStartReply     = "start.reply"
	RuleTestFrame      = "stream.test_frame"
	RuleMinPairs       = "stream.min_pairs"
	RuleOrdering       = "stream.ordering"
	RuleSampleCount    = "stream.sample_count"
	RuleChannelFlags   = "stream.channel_flags"
	RuleIntegrity      = "stream.integrity"
	RuleSequence       = "stream.sequence"
	RuleStatusReply    = "status.reply"
	RuleStatusConsist  = "status.consistency"
	RuleStopReply      = "stop.reply"
	RuleTransport      = "transport"
	ruleConfigurePrefx = "configure."
)

// ConfigureRule 配置命令对应的规则 ID，如 configure.set_block_rate
func ConfigureRule(cmd vnd.Command) string {
	return ruleConfigurePrefx + strings.ToLower(cmd.Name())
}

var fixedRules = []string{
	RuleStartReply, RuleTestFrame, RuleMinPairs, RuleOrdering, RuleSampleCount,
	RuleChannelFlags, RuleIntegrity, RuleSequence, RuleStatusReply, RuleStatusConsist,
	RuleStopReply, RuleTransport,
}

// Budgets 每条状态边的等待预算
type Budgets struct {
	Configure time.Duration `mapstructure:"configure" yaml:"configure"`
	Start     time.Duration `mapstructure:"start" yaml:"start"`
	TestFrame time.Duration `mapstructure:"testFrame" yaml:"test_frame"`
	Pairs     time.Duration `mapstructure:"pairs" yaml:"pairs"`
	Status    time.Duration `mapstructure:"status" yaml:"status"`
	Observe   time.Duration `mapstructure:"observe" yaml:"observe"`
	Stop      time.Duration `mapstructure:"stop" yaml:"stop"`
}

// DefaultBudgets 默认预算
func DefaultBudgets() Budgets {
	return Budgets{
		Configure: 500 * time.Millisecond,
		Start:     time.Second,
		TestFrame: 500 * time.Millisecond,
		Pairs:     3 * time.Second,
		Status:    time.Second,
		Observe:   500 * time.Millisecond,
		Stop:      time.Second,
	}
}

// Options 检查参数
type Options struct {
	Device            string
	Configure         []vnd.Command
	MinPairs          uint64
	ExpectSamples     uint16 // 0 表示不限定
	RequireTestFrame  bool
	MaxChecksumErrors uint64
	Budgets           Budgets
}

// Checker 驱动 configure→start→observe→status→stop 场景并产出报告。
// 一个 Checker 只运行一次。
type Checker struct {
	pump   *stream.Pump
	opts   Options
	logger *zap.Logger

	state    State
	report   *Report
	results  map[string]RuleResult
	configOK []string
	abort    string
	fatal    error

	sawTest       bool
	dataFrames    uint64
	lockedSamples uint16
	sampleLocked  bool
	sampleChange  string
}

// NewChecker 创建检查器
func NewChecker(p *stream.Pump, opts Options, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinPairs == 0 {
		opts.MinPairs = 1
	}
	if opts.Budgets == (Budgets{}) {
		opts.Budgets = DefaultBudgets()
	}
	return &Checker{
		pump:    p,
		opts:    opts,
		logger:  logger,
		state:   StateIdle,
		results: make(map[string]RuleResult),
	}
}

// State 当前状态
func (c *Checker) State() State { return c.state }

// Run 执行完整场景。取消或传输错误时仍尽力发送 STOP。
func (c *Checker) Run(ctx context.Context) *Report {
	c.report = &Report{
		RunID:     uuid.NewString(),
		Device:    c.opts.Device,
		StartedAt: c.pump.Now(),
	}
	c.pump.OnFrame(c.observe)
	c.logger.Info("compliance run started",
		zap.String("run_id", c.report.RunID),
		zap.Uint64("min_pairs", c.opts.MinPairs),
		zap.Int("configure_cmds", len(c.opts.Configure)))

	c.runScenario(ctx)
	c.stop()
	c.finish()
	return c.report
}

func (c *Checker) runScenario(ctx context.Context) {
	b := c.opts.Budgets

	// 1) 配置
	c.transition(StateConfiguring)
	for _, cmd := range c.opts.Configure {
		id := ConfigureRule(cmd)
		_, err := c.pump.Exchange(ctx, cmd, b.Configure)
		if c.interrupted(err) {
			c.set(id, Fail, err.Error())
			return
		}
		if err != nil {
			c.set(id, Fail, err.Error())
			continue
		}
		c.set(id, Pass, "")
		c.configOK = append(c.configOK, id)
	}

	// 2) 启动
	c.transition(StateStarted)
	res, err := c.pump.Exchange(ctx, vnd.StartStream(), b.Start)
	switch {
	case c.interrupted(err):
		c.set(RuleStartReply, Fail, err.Error())
		return
	case errors.Is(err, stream.ErrNack):
		c.set(RuleStartReply, Fail, "device rejected START")
		c.abort = "stream not started"
		return
	case err != nil:
		c.set(RuleStartReply, Warn, err.Error())
	default:
		c.set(RuleStartReply, Pass, "replied with "+res.Reply.Kind().String())
	}

	if _, err := c.pump.RunUntil(ctx, c.deadline(b.TestFrame), func() bool { return c.sawTest }); c.interrupted(err) {
		return
	}
	switch {
	case c.sawTest:
		c.set(RuleTestFrame, Pass, "")
	case c.opts.RequireTestFrame:
		c.set(RuleTestFrame, Fail, fmt.Sprintf("no test frame within %s", b.TestFrame))
	default:
		c.set(RuleTestFrame, Warn, fmt.Sprintf("no test frame within %s", b.TestFrame))
	}

	// 3) 观测配对
	c.transition(StateObservingPairs)
	baseViolations := c.pump.Tracker().State().OrderingViolations
	_, err = c.pump.RunUntil(ctx, c.deadline(b.Pairs), func() bool {
		return c.pump.Tracker().State().PairsCompleted >= c.opts.MinPairs
	})
	if c.interrupted(err) {
		return
	}
	pairs := c.pump.Tracker().State().PairsCompleted
	if pairs >= c.opts.MinPairs {
		c.set(RuleMinPairs, Pass, fmt.Sprintf("%d pairs", pairs))
	} else {
		c.set(RuleMinPairs, Fail, fmt.Sprintf("%d of %d pairs within %s", pairs, c.opts.MinPairs, b.Pairs))
	}

	// 4) 状态查询
	c.transition(StateStatusRequested)
	res, err = c.pump.Exchange(ctx, vnd.GetStatus(), b.Status)
	if c.interrupted(err) {
		c.set(RuleStatusReply, Fail, err.Error())
		return
	}
	if err != nil {
		c.set(RuleStatusReply, Fail, err.Error())
		c.set(RuleStatusConsist, Skip, "no status reply")
	} else {
		c.transition(StateStatusConfirmed)
		c.set(RuleStatusReply, Pass, "")
		c.checkStatus(res.Reply.(*vnd.StatusFrame))
	}

	// 5) 继续观测
	if _, err := c.pump.RunUntil(ctx, c.deadline(b.Observe), func() bool { return false }); c.interrupted(err) {
		return
	}
	c.evaluateStream(baseViolations)
}

func (c *Checker) checkStatus(st *vnd.StatusFrame) {
	if !c.sampleLocked {
		c.set(RuleStatusConsist, Skip, "no data frames to compare")
		return
	}
	if st.CurSamples != c.lockedSamples {
		c.set(RuleStatusConsist, Warn, fmt.Sprintf("status cur_samples=%d, stream sample_count=%d", st.CurSamples, c.lockedSamples))
		return
	}
	c.set(RuleStatusConsist, Pass, fmt.Sprintf("cur_samples=%d", st.CurSamples))
}

func (c *Checker) evaluateStream(baseViolations uint64) {
	ps := c.pump.Tracker().State()
	ds := c.pump.Deframer().Stats()

	if d := ps.OrderingViolations - baseViolations; d > 0 {
		c.set(RuleOrdering, Fail, fmt.Sprintf("%d ordering violations while observing", d))
	} else {
		c.set(RuleOrdering, Pass, "")
	}

	switch {
	case !c.sampleLocked:
		c.set(RuleSampleCount, Skip, "no data frames")
	case c.sampleChange != "":
		c.set(RuleSampleCount, Fail, c.sampleChange)
	case c.opts.ExpectSamples != 0 && c.lockedSamples != c.opts.ExpectSamples:
		c.set(RuleSampleCount, Fail, fmt.Sprintf("sample_count=%d, expected %d", c.lockedSamples, c.opts.ExpectSamples))
	default:
		c.set(RuleSampleCount, Pass, fmt.Sprintf("sample_count=%d", c.lockedSamples))
	}

	if ds.Unrecognized > 0 {
		c.set(RuleChannelFlags, Fail, fmt.Sprintf("%d frames with unexpected flags", ds.Unrecognized))
	} else {
		c.set(RuleChannelFlags, Pass, "")
	}

	if ds.ChecksumMismatches > c.opts.MaxChecksumErrors {
		c.set(RuleIntegrity, Fail, fmt.Sprintf("%d checksum mismatches (max %d)", ds.ChecksumMismatches, c.opts.MaxChecksumErrors))
	} else {
		c.set(RuleIntegrity, Pass, fmt.Sprintf("%d checksum mismatches, %d desyncs", ds.ChecksumMismatches, ds.Desyncs))
	}

	if ps.SequenceGaps > 0 {
		c.set(RuleSequence, Warn, fmt.Sprintf("%d gaps, last gap %d", ps.SequenceGaps, ps.LastGap))
	} else {
		c.set(RuleSequence, Pass, "")
	}
}

// stop 无论前面结果如何都尝试 STOP；取消后使用独立的短预算
func (c *Checker) stop() {
	c.transition(StateStopping)
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Budgets.Stop+c.opts.Budgets.Stop/2)
	defer cancel()

	res, err := c.pump.Exchange(ctx, vnd.StopStream(), c.opts.Budgets.Stop)
	switch {
	case err == nil:
		c.set(RuleStopReply, Pass, "replied with "+res.Reply.Kind().String())
	case c.fatal != nil:
		c.set(RuleStopReply, Fail, "best-effort STOP after transport failure: "+err.Error())
	case c.abort == "" && c.cleanSoFar() && isTimeout(err):
		// 最后一个 STAT 已被 GET_STATUS 消费；STOP 无应答不推翻前面全部通过的结论
		c.set(RuleStopReply, Warn, "no reply to STOP: "+err.Error())
	default:
		c.set(RuleStopReply, Fail, err.Error())
		if transport.IsFatal(err) && c.fatal == nil {
			c.fatal = err
		}
	}
	c.transition(StateStopped)
}

func (c *Checker) finish() {
	r := c.report
	if c.fatal != nil {
		c.set(RuleTransport, Fail, c.fatal.Error())
	} else {
		c.set(RuleTransport, Pass, "")
	}

	skipReason := "not reached"
	if c.abort != "" {
		skipReason = "not reached: " + c.abort
	}

	for _, cmd := range c.opts.Configure {
		id := ConfigureRule(cmd)
		r.Rules = append(r.Rules, c.result(id, skipReason))
	}
	if len(c.opts.Configure) == 0 {
		r.Rules = append(r.Rules, RuleResult{ID: "configure", Verdict: Skip, Reason: "no configuration commands"})
	}
	for _, id := range fixedRules {
		r.Rules = append(r.Rules, c.result(id, skipReason))
	}

	r.Result = Pass
	if len(r.Failures()) > 0 {
		r.Result = Fail
	}
	r.FinalState = c.state
	r.FinishedAt = c.pump.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	r.LockedSamples = c.lockedSamples
	r.Stats = c.pump.Snapshot()

	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("result", string(r.Result)),
		zap.Uint64("pairs", r.Stats.Pairs.PairsCompleted),
		zap.Uint64("violations", r.Stats.Pairs.OrderingViolations),
		zap.Duration("duration", r.Duration),
	}
	if r.Passed() {
		c.logger.Info("compliance run finished", fields...)
		return
	}
	for _, f := range r.Failures() {
		c.logger.Warn("rule failed", zap.String("rule", f.ID), zap.String("reason", f.Reason))
	}
	c.logger.Warn("compliance run finished", fields...)
}

func (c *Checker) result(id, skipReason string) RuleResult {
	if rr, ok := c.results[id]; ok {
		return rr
	}
	return RuleResult{ID: id, Verdict: Skip, Reason: skipReason}
}

// observe 帧钩子：测试帧、样本数锁定
func (c *Checker) observe(f vnd.Frame) {
	switch fr := f.(type) {
	case *vnd.TestFrame:
		c.sawTest = true
	case *vnd.DataFrame:
		c.dataFrames++
		if !c.sampleLocked {
			c.lockedSamples = fr.SampleCount
			c.sampleLocked = true
			return
		}
		if fr.SampleCount != c.lockedSamples && c.sampleChange == "" {
			c.sampleChange = fmt.Sprintf("sample_count changed %d -> %d at channel %s seq=%d",
				c.lockedSamples, fr.SampleCount, fr.Channel, fr.Sequence)
		}
	}
}

// interrupted 传输错误或取消时记录中止原因，返回 true 表示场景应结束
func (c *Checker) interrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.abort = "cancelled"
		return true
	}
	if transport.IsFatal(err) {
		c.fatal = err
		c.abort = "transport failure"
		return true
	}
	return false
}

// cleanSoFar 目前记录的规则中没有 FAIL
func (c *Checker) cleanSoFar() bool {
	for _, rr := range c.results {
		if rr.Verdict == Fail {
			return false
		}
	}
	return true
}

func isTimeout(err error) bool {
	var te *stream.TimeoutError
	return errors.As(err, &te)
}

func (c *Checker) set(id string, v Verdict, reason string) {
	c.results[id] = RuleResult{ID: id, Verdict: v, Reason: reason}
}

func (c *Checker) deadline(d time.Duration) time.Time {
	return c.pump.Now().Add(d)
}

func (c *Checker) transition(to State) {
	if c.state == to {
		return
	}
	c.report.Transitions = append(c.report.Transitions, Transition{From: c.state, To: to, At: c.pump.Now()})
	c.logger.Debug("compliance state", zap.String("from", string(c.state)), zap.String("to", string(to)))
	c.state = to
}
