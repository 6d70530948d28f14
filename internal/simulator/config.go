package simulator

import "time"

// Config 模拟器配置
type Config struct {
	// 固件行为
	SampleCount   uint16 `mapstructure:"sampleCount" yaml:"sample_count"`
	BlockRate     uint16 `mapstructure:"blockRate" yaml:"block_rate"`
	Version       uint8  `mapstructure:"version" yaml:"version"`
	EmitTestFrame bool   `mapstructure:"emitTestFrame" yaml:"emit_test_frame"`
	// StartReply/StopReply：status|ack|none
	StartReply string `mapstructure:"startReply" yaml:"start_reply"`
	StopReply  string `mapstructure:"stopReply" yaml:"stop_reply"`

	// 传输行为
	ChunkSize int           `mapstructure:"chunkSize" yaml:"chunk_size"`
	Realtime  bool          `mapstructure:"realtime" yaml:"realtime"`
	IdleWait  time.Duration `mapstructure:"idleWait" yaml:"idle_wait"`

	// 故障注入（每个采集周期的概率）
	GarbageRate float64 `mapstructure:"garbageRate" yaml:"garbage_rate"`
	BitFlipRate float64 `mapstructure:"bitFlipRate" yaml:"bit_flip_rate"`
	DropBRate   float64 `mapstructure:"dropBRate" yaml:"drop_b_rate"`
	SkipSeqRate float64 `mapstructure:"skipSeqRate" yaml:"skip_seq_rate"`
	Seed        int64   `mapstructure:"seed" yaml:"seed"`
}

// DefaultConfig 返回默认配置：200Hz，每帧 240 样本，无故障
func DefaultConfig() Config {
	return Config{
		SampleCount:   240,
		BlockRate:     200,
		Version:       1,
		EmitTestFrame: true,
		StartReply:    "status",
		StopReply:     "status",
		ChunkSize:     512,
		IdleWait:      time.Millisecond,
		Seed:          1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleCount == 0 {
		c.SampleCount = d.SampleCount
	}
	if c.BlockRate == 0 {
		c.BlockRate = d.BlockRate
	}
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.StartReply == "" {
		c.StartReply = d.StartReply
	}
	if c.StopReply == "" {
		c.StopReply = d.StopReply
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.IdleWait <= 0 {
		c.IdleWait = d.IdleWait
	}
	return c
}
