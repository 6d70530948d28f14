package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/vndstream/internal/compliance"
	cfgpkg "github.com/taoyao-code/vndstream/internal/config"
	"github.com/taoyao-code/vndstream/internal/monitor"
	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
	"github.com/taoyao-code/vndstream/internal/stream"
)

// NewDeframer 按协议配置创建解帧器
func NewDeframer(cfg cfgpkg.ProtocolConfig) (*vnd.Deframer, error) {
	policy, err := vnd.ParseChecksumPolicy(cfg.ChecksumPolicy)
	if err != nil {
		return nil, err
	}
	opts := []vnd.Option{vnd.WithChecksumPolicy(policy)}
	if len(cfg.SupportedVersions) > 0 {
		opts = append(opts, vnd.WithSupportedVersions(cfg.SupportedVersions...))
	}
	if cfg.MaxSampleCount > 0 {
		opts = append(opts, vnd.WithMaxSampleCount(cfg.MaxSampleCount))
	}
	return vnd.NewDeframer(opts...), nil
}

// NewPump 组装驱动循环
func NewPump(cfg *cfgpkg.Config, rw stream.ReadWriter, obs stream.Observer, logger *zap.Logger) (*stream.Pump, error) {
	dfr, err := NewDeframer(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	opts := []stream.PumpOption{
		stream.WithDeframer(dfr),
		stream.WithLogger(logger),
		stream.WithSessionOptions(stream.WithWriteTimeout(cfg.Transport.WriteTimeout)),
	}
	if cfg.Transport.ReadTimeout > 0 {
		opts = append(opts, stream.WithReadTimeout(cfg.Transport.ReadTimeout))
	}
	if cfg.Transport.ReadSize > 0 {
		opts = append(opts, stream.WithReadSize(cfg.Transport.ReadSize))
	}
	if obs != nil {
		opts = append(opts, stream.WithObserver(obs))
	}
	return stream.NewPump(rw, opts...), nil
}

// SetupCommands START 前的配置命令，顺序与固件工具一致：
// 窗口、块速率、full mode、profile、截断、帧样本数
func SetupCommands(s cfgpkg.SetupConfig) ([]vnd.Command, error) {
	var cmds []vnd.Command
	add := func(cmd vnd.Command, err error) error {
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
		return nil
	}

	if len(s.Windows) > 0 {
		var w [2]vnd.Window
		for i, wc := range s.Windows {
			if i >= len(w) {
				return nil, fmt.Errorf("%w: windows: at most 2", vnd.ErrInvalidParameter)
			}
			w[i] = vnd.Window{Start: wc.Start, Length: wc.Length}
		}
		if err := add(vnd.SetWindows(w[0], w[1])); err != nil {
			return nil, err
		}
	}
	if s.BlockRate != 0 {
		if err := add(vnd.SetBlockRate(s.BlockRate)); err != nil {
			return nil, err
		}
	}
	if s.FullMode != nil {
		if err := add(vnd.SetFullMode(*s.FullMode)); err != nil {
			return nil, err
		}
	}
	if s.Profile != 0 {
		if err := add(vnd.SetProfile(s.Profile)); err != nil {
			return nil, err
		}
	}
	if s.TruncSamples != 0 {
		if err := add(vnd.SetTruncSamples(s.TruncSamples)); err != nil {
			return nil, err
		}
	}
	if s.FrameSamples != 0 {
		if err := add(vnd.SetFrameSamples(s.FrameSamples)); err != nil {
			return nil, err
		}
	}
	return cmds, nil
}

// CheckerOptions 一致性检查参数
func CheckerOptions(cfg *cfgpkg.Config) (compliance.Options, error) {
	cmds, err := SetupCommands(cfg.Compliance.Setup)
	if err != nil {
		return compliance.Options{}, err
	}
	c := cfg.Compliance
	b := compliance.DefaultBudgets()
	override := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	override(&b.Configure, c.Budgets.Configure)
	override(&b.Start, c.Budgets.Start)
	override(&b.TestFrame, c.Budgets.TestFrame)
	override(&b.Pairs, c.Budgets.Pairs)
	override(&b.Status, c.Budgets.Status)
	override(&b.Observe, c.Budgets.Observe)
	override(&b.Stop, c.Budgets.Stop)

	return compliance.Options{
		Device:            deviceName(cfg),
		Configure:         cmds,
		MinPairs:          c.MinPairs,
		ExpectSamples:     c.ExpectSamples,
		RequireTestFrame:  c.RequireTestFrame,
		MaxChecksumErrors: c.MaxChecksumErrors,
		Budgets:           b,
	}, nil
}

// MonitorOptions burn-in 参数
func MonitorOptions(cfg *cfgpkg.Config) (monitor.Options, error) {
	cmds, err := SetupCommands(cfg.Compliance.Setup)
	if err != nil {
		return monitor.Options{}, err
	}
	m := cfg.Monitor
	return monitor.Options{
		Device:         deviceName(cfg),
		Configure:      cmds,
		Duration:       m.Duration,
		StatusInterval: m.StatusInterval,
		StatusTimeout:  m.StatusTimeout,
		ReportInterval: m.ReportInterval,
		PublishEvery:   m.PublishEvery,
		StartTimeout:   cfg.Compliance.Budgets.Start,
		StopTimeout:    cfg.Compliance.Budgets.Stop,
	}, nil
}

func deviceName(cfg *cfgpkg.Config) string {
	if cfg.Device.Name != "" {
		return cfg.Device.Name
	}
	if cfg.Transport.Kind == "usb" {
		return fmt.Sprintf("%04x:%04x", cfg.Device.VendorID, cfg.Device.ProductID)
	}
	return cfg.Transport.Kind
}
