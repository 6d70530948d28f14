package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/vndstream/internal/config"
	"github.com/taoyao-code/vndstream/internal/simulator"
	"github.com/taoyao-code/vndstream/internal/transport"
)

// OpenTransport 按 transport.kind 打开传输
func OpenTransport(cfg *cfgpkg.Config, logger *zap.Logger) (transport.Transport, error) {
	kind := strings.ToLower(cfg.Transport.Kind)
	switch kind {
	case "usb":
		d := cfg.Device
		return transport.OpenUSB(transport.USBConfig{
			VendorID:    d.VendorID,
			ProductID:   d.ProductID,
			Config:      d.Config,
			Interface:   d.Interface,
			AltSetting:  d.AltSetting,
			EndpointIn:  d.EndpointIn,
			EndpointOut: d.EndpointOut,
		}, logger)
	case "serial":
		s := cfg.Transport.Serial
		return transport.OpenSerial(transport.SerialConfig{
			Address:  s.Address,
			BaudRate: s.BaudRate,
			DataBits: s.DataBits,
			StopBits: s.StopBits,
			Parity:   s.Parity,
			Timeout:  s.Timeout,
		}, logger)
	case "replay":
		r := cfg.Transport.Replay
		return transport.OpenReplay(r.Path, transport.WithChunkSize(r.ChunkSize), transport.WithLoop(r.Loop))
	case "simulator":
		return simulator.New(SimulatorConfig(cfg.Transport.Simulator), simulator.WithLogger(logger.Named("simulator"))), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// SimulatorConfig 配置映射到模拟器参数
func SimulatorConfig(c cfgpkg.SimulatorConfig) simulator.Config {
	return simulator.Config{
		SampleCount:   c.SampleCount,
		BlockRate:     c.BlockRate,
		Version:       c.Version,
		EmitTestFrame: c.EmitTestFrame,
		StartReply:    c.StartReply,
		StopReply:     c.StopReply,
		ChunkSize:     c.ChunkSize,
		Realtime:      c.Realtime,
		IdleWait:      c.IdleWait,
		GarbageRate:   c.GarbageRate,
		BitFlipRate:   c.BitFlipRate,
		DropBRate:     c.DropBRate,
		SkipSeqRate:   c.SkipSeqRate,
		Seed:          c.Seed,
	}
}
