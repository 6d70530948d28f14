package simulator

import (
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
	"github.com/taoyao-code/vndstream/internal/transport"
)

// Device 固件行为模拟：应答命令，按块速率输出 STAT/TEST/A/B，可注入故障。
// 实现 transport.Transport，供测试与 transport.kind=simulator 使用。
type Device struct {
	mu     sync.Mutex
	cfg    Config
	inj    *Injector
	logger *zap.Logger

	out       []byte
	closed    bool
	streaming bool
	seq       uint32
	nextCycle time.Time
	now       func() time.Time

	windows  [2]vnd.Window
	fullMode uint8
	profile  uint8
	trunc    uint16

	testFrames uint16
	sent0      uint32
	sent1      uint32
	received   []vnd.Command
}

// Option 模拟器选项
type Option func(*Device)

func WithLogger(l *zap.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// New 创建模拟设备
func New(cfg Config, opts ...Option) *Device {
	cfg = cfg.withDefaults()
	d := &Device{
		cfg:    cfg,
		inj:    NewInjector(cfg),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ transport.Transport = (*Device)(nil)

// Read 返回最多 ChunkSize 字节的上行数据；无数据时等待 IdleWait 后返回 0, nil
func (d *Device) Read(p []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, transport.ErrClosed
	}
	if len(d.out) == 0 && d.streaming {
		if wait := d.cycleWait(); wait > 0 {
			d.mu.Unlock()
			if wait > timeout {
				time.Sleep(timeout)
				return 0, nil
			}
			time.Sleep(wait)
			d.mu.Lock()
			if d.closed {
				d.mu.Unlock()
				return 0, transport.ErrClosed
			}
		}
		if d.streaming {
			d.emitCycle()
		}
	}
	if len(d.out) == 0 {
		d.mu.Unlock()
		idle := d.cfg.IdleWait
		if idle > timeout {
			idle = timeout
		}
		time.Sleep(idle)
		return 0, nil
	}
	n := len(p)
	if n > d.cfg.ChunkSize {
		n = d.cfg.ChunkSize
	}
	n = copy(p[:n], d.out)
	d.out = d.out[n:]
	d.mu.Unlock()
	return n, nil
}

// Write 解析一条命令并把应答排入上行队列
func (d *Device) Write(p []byte, _ time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, transport.ErrClosed
	}
	cmd, err := vnd.ParseCommand(p)
	if err != nil {
		d.logger.Debug("simulator rejected command", zap.Binary("raw", p), zap.Error(err))
		if len(p) > 0 {
			d.queue(vnd.EncodeAck(p[0], false))
		}
		return len(p), nil
	}
	d.received = append(d.received, cmd)
	d.handle(cmd)
	return len(p), nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.streaming = false
	d.out = nil
	return nil
}

// Streaming 是否在推流
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Received 已收到的命令
func (d *Device) Received() []vnd.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]vnd.Command(nil), d.received...)
}

// Faults 各类故障注入次数
func (d *Device) Faults() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inj.Counts()
}

func (d *Device) handle(cmd vnd.Command) {
	p := cmd.Payload
	switch cmd.Opcode {
	case vnd.CmdPing:
		d.ack(cmd, true)
	case vnd.CmdStartStream:
		d.streaming = true
		d.seq = 0
		d.nextCycle = d.now()
		d.reply(cmd, d.cfg.StartReply)
		if d.cfg.EmitTestFrame {
			d.testFrames++
			d.queue(vnd.EncodeFrame(vnd.Header{Version: d.cfg.Version, Flags: vnd.FlagTest | vnd.FlagChannelA | vnd.FlagCRC}, make([]int16, vnd.TestSampleCount)))
		}
	case vnd.CmdStopStream:
		d.streaming = false
		d.reply(cmd, d.cfg.StopReply)
	case vnd.CmdGetStatus:
		d.queue(d.status())
	default:
		// 推流期间不接受配置
		if d.streaming {
			d.ack(cmd, false)
			return
		}
		d.configure(cmd.Opcode, p)
		d.ack(cmd, true)
	}
}

func (d *Device) configure(op uint8, p []byte) {
	le := binary.LittleEndian
	switch op {
	case vnd.CmdSetWindows:
		d.windows[0] = vnd.Window{Start: le.Uint16(p[0:]), Length: le.Uint16(p[2:])}
		d.windows[1] = vnd.Window{Start: le.Uint16(p[4:]), Length: le.Uint16(p[6:])}
	case vnd.CmdSetBlockRate:
		d.cfg.BlockRate = le.Uint16(p)
	case vnd.CmdSetFullMode:
		d.fullMode = p[0]
	case vnd.CmdSetProfile:
		d.profile = p[0]
		switch d.profile {
		case 1:
			d.cfg.BlockRate = 200
		case 2:
			d.cfg.BlockRate = 300
		}
	case vnd.CmdSetTruncSamples:
		d.trunc = le.Uint16(p)
	case vnd.CmdSetFrameSamples:
		d.cfg.SampleCount = le.Uint16(p)
	}
}

func (d *Device) reply(cmd vnd.Command, mode string) {
	switch mode {
	case "ack":
		d.ack(cmd, true)
	case "none":
	default:
		d.queue(d.status())
	}
}

func (d *Device) ack(cmd vnd.Command, positive bool) {
	d.queue(vnd.EncodeAck(cmd.Opcode, positive))
}

func (d *Device) queue(b []byte) { d.out = append(d.out, b...) }

func (d *Device) cycleWait() time.Duration {
	if !d.cfg.Realtime {
		return 0
	}
	return d.nextCycle.Sub(d.now())
}

// emitCycle 输出一个采集周期：可选垃圾 + A + B
func (d *Device) emitCycle() {
	if g := d.inj.Garbage(); len(g) > 0 {
		d.queue(g)
	}
	if d.inj.SkipSeq(d.seq) {
		d.seq++
	}
	seq := d.seq
	ts := uint32(uint64(seq) * 1000 / uint64(d.cfg.BlockRate))

	a := d.frame(vnd.ChannelA, seq, ts)
	d.inj.FlipPayloadBit(a)
	d.queue(a)
	d.sent0++

	if !d.inj.DropB(seq) {
		d.queue(d.frame(vnd.ChannelB, seq, ts))
		d.sent1++
	}

	d.seq++
	d.nextCycle = d.nextCycle.Add(time.Second / time.Duration(d.cfg.BlockRate))
}

func (d *Device) frame(ch vnd.Channel, seq, ts uint32) []byte {
	samples := make([]int16, d.cfg.SampleCount)
	for i := range samples {
		samples[i] = int16((i*37+int(seq))%2048 - 1024)
		if ch == vnd.ChannelB {
			samples[i] = -samples[i]
		}
	}
	flags := vnd.FlagChannelA | vnd.FlagCRC
	if ch == vnd.ChannelB {
		flags = vnd.FlagChannelB | vnd.FlagCRC
	}
	return vnd.EncodeFrame(vnd.Header{Version: d.cfg.Version, Flags: flags, Sequence: seq, Timestamp: ts}, samples)
}

func (d *Device) status() []byte {
	var runtime uint16
	if d.streaming {
		runtime |= 0x0001
	}
	if d.fullMode == 1 {
		runtime |= 0x0002
	}
	return vnd.EncodeStatus(vnd.StatusFrame{
		Version:       d.cfg.Version,
		CurSamples:    d.cfg.SampleCount,
		FrameBytes:    uint16(vnd.HeaderSize + int(d.cfg.SampleCount)*2),
		TestFrames:    d.testFrames,
		ProducedSeq:   d.seq,
		Sent0:         d.sent0,
		Sent1:         d.sent1,
		TxComplete:    d.sent0 + d.sent1,
		FrameWriteSeq: d.seq,
		RuntimeFlags:  runtime,
		Flags2:        uint16(d.profile),
	})
}
