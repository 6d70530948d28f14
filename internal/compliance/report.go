package compliance

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/vndstream/internal/stream"
)

// Verdict 规则结论
type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
	Warn Verdict = "WARN"
	Skip Verdict = "SKIP"
)

// RuleResult 单条规则的结论
type RuleResult struct {
	ID      string  `json:"id" yaml:"id"`
	Verdict Verdict `json:"verdict" yaml:"verdict"`
	Reason  string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Transition 状态机迁移记录
type Transition struct {
	From State     `json:"from" yaml:"from"`
	To   State     `json:"to" yaml:"to"`
	At   time.Time `json:"at" yaml:"at"`
}

// Report 一次一致性检查的完整报告
type Report struct {
	RunID         string          `json:"run_id" yaml:"run_id"`
	Device        string          `json:"device,omitempty" yaml:"device,omitempty"`
	Result        Verdict         `json:"result" yaml:"result"`
	FinalState    State           `json:"final_state" yaml:"final_state"`
	StartedAt     time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time       `json:"finished_at" yaml:"finished_at"`
	Duration      time.Duration   `json:"duration" yaml:"duration"`
	LockedSamples uint16          `json:"locked_samples,omitempty" yaml:"locked_samples,omitempty"`
	Rules         []RuleResult    `json:"rules" yaml:"rules"`
	Transitions   []Transition    `json:"transitions" yaml:"transitions"`
	Stats         stream.Snapshot `json:"stats" yaml:"stats"`
}

// Passed 没有任何 FAIL 即通过
func (r *Report) Passed() bool { return r.Result == Pass }

// Rule 按 ID 查找规则结论
func (r *Report) Rule(id string) (RuleResult, bool) {
	for _, rr := range r.Rules {
		if rr.ID == id {
			return rr, true
		}
	}
	return RuleResult{}, false
}

// Count 统计某个结论的规则数
func (r *Report) Count(v Verdict) int {
	n := 0
	for _, rr := range r.Rules {
		if rr.Verdict == v {
			n++
		}
	}
	return n
}

// Failures 所有 FAIL 规则
func (r *Report) Failures() []RuleResult {
	var out []RuleResult
	for _, rr := range r.Rules {
		if rr.Verdict == Fail {
			out = append(out, rr)
		}
	}
	return out
}

// Summary 一行摘要
func (r *Report) Summary() string {
	return fmt.Sprintf("%s run=%s pairs=%d violations=%d gaps=%d pass=%d fail=%d warn=%d skip=%d",
		r.Result, r.RunID,
		r.Stats.Pairs.PairsCompleted, r.Stats.Pairs.OrderingViolations, r.Stats.Pairs.SequenceGaps,
		r.Count(Pass), r.Count(Fail), r.Count(Warn), r.Count(Skip))
}

// Render 按格式输出报告：text|json|yaml
func Render(w io.Writer, r *Report, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		return renderText(w, r)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func renderText(w io.Writer, r *Report) error {
	fmt.Fprintf(w, "compliance run %s  result=%s  state=%s  duration=%s\n",
		r.RunID, r.Result, r.FinalState, r.Duration.Round(time.Millisecond))
	if r.Device != "" {
		fmt.Fprintf(w, "device: %s\n", r.Device)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tVERDICT\tREASON")
	for _, rr := range r.Rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rr.ID, rr.Verdict, rr.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	d := r.Stats.Decoder
	p := r.Stats.Pairs
	_, err := fmt.Fprintf(w,
		"frames=%d data=%d test=%d status=%d acks=%d unrecognized=%d crc_errors=%d desyncs=%d discarded=%d\n"+
			"pairs=%d violations=%d gaps=%d last_gap=%d\n",
		d.Frames, d.DataFrames, d.TestFrames, d.StatusFrames, d.Acks, d.Unrecognized,
		d.ChecksumMismatches, d.Desyncs, d.DiscardedBytes,
		p.PairsCompleted, p.OrderingViolations, p.SequenceGaps, p.LastGap)
	return err
}
