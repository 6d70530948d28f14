package vnd

import (
	"encoding/binary"
	"fmt"
)

// ReplyKind 命令期望的应答类型
type ReplyKind int

const (
	// ReplyAck 仅接受回显命令码的 ACK/NACK
	ReplyAck ReplyKind = iota
	// ReplyStatus 任意时刻到达的状态块即满足
	ReplyStatus
	// ReplyAckOrStatus ACK 或状态块均可（START/STOP，固件以 STAT 应答）
	ReplyAckOrStatus
)

// Command 一条下行命令：命令码 + 定长小端载荷。构造后不再修改。
type Command struct {
	Opcode  uint8
	Payload []byte
}

// Name 命令名
func (c Command) Name() string { return OpcodeName(c.Opcode) }

// Reply 返回该命令的应答策略
func (c Command) Reply() ReplyKind {
	switch c.Opcode {
	case CmdGetStatus:
		return ReplyStatus
	case CmdStartStream, CmdStopStream:
		return ReplyAckOrStatus
	default:
		return ReplyAck
	}
}

// Encode 编码为 bulk-OUT 发送缓冲：opcode ‖ payload
func (c Command) Encode() []byte {
	out := make([]byte, 1+len(c.Payload))
	out[0] = c.Opcode
	copy(out[1:], c.Payload)
	return out
}

// Window 采集窗口（起点与长度，单位：样本）
type Window struct {
	Start  uint16
	Length uint16
}

func invalid(field string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidParameter, field, fmt.Sprintf(format, args...))
}

// SetWindows 0x10：start0,len0,start1,len1
func SetWindows(w0, w1 Window) (Command, error) {
	if w0.Length == 0 {
		return Command{}, invalid("len0", "zero-length window")
	}
	if w1.Length == 0 {
		return Command{}, invalid("len1", "zero-length window")
	}
	if uint32(w0.Start)+uint32(w0.Length) > 0xFFFF {
		return Command{}, invalid("window0", "start+len overflows u16 (%d+%d)", w0.Start, w0.Length)
	}
	if uint32(w1.Start)+uint32(w1.Length) > 0xFFFF {
		return Command{}, invalid("window1", "start+len overflows u16 (%d+%d)", w1.Start, w1.Length)
	}
	p := make([]byte, 8)
	binary.LittleEndian.PutUint16(p[0:], w0.Start)
	binary.LittleEndian.PutUint16(p[2:], w0.Length)
	binary.LittleEndian.PutUint16(p[4:], w1.Start)
	binary.LittleEndian.PutUint16(p[6:], w1.Length)
	return Command{Opcode: CmdSetWindows, Payload: p}, nil
}

// SetBlockRate 0x11：块速率 hz
func SetBlockRate(hz uint16) (Command, error) {
	if hz == 0 {
		return Command{}, invalid("hz", "block rate must be positive")
	}
	return Command{Opcode: CmdSetBlockRate, Payload: le16(hz)}, nil
}

// SetFullMode 0x13：0=ROI，1=FULL
func SetFullMode(mode uint8) (Command, error) {
	if mode > 1 {
		return Command{}, invalid("mode", "expected 0 (roi) or 1 (full), got %d", mode)
	}
	return Command{Opcode: CmdSetFullMode, Payload: []byte{mode}}, nil
}

// SetProfile 0x14：1=200Hz，2=300Hz
func SetProfile(profile uint8) (Command, error) {
	if profile == 0 {
		return Command{}, invalid("profile_id", "profile must be non-zero")
	}
	return Command{Opcode: CmdSetProfile, Payload: []byte{profile}}, nil
}

// SetTruncSamples 0x16：截断样本数
func SetTruncSamples(count uint16) (Command, error) {
	if count == 0 || count > MaxSampleCount {
		return Command{}, invalid("count", "trunc samples out of range 1..%d: %d", MaxSampleCount, count)
	}
	return Command{Opcode: CmdSetTruncSamples, Payload: le16(count)}, nil
}

// SetFrameSamples 0x17：每帧样本数
func SetFrameSamples(count uint16) (Command, error) {
	if count == 0 || count > MaxSampleCount {
		return Command{}, invalid("count", "frame samples out of range 1..%d: %d", MaxSampleCount, count)
	}
	return Command{Opcode: CmdSetFrameSamples, Payload: le16(count)}, nil
}

// StartStream 0x20
func StartStream() Command { return Command{Opcode: CmdStartStream} }

// StopStream 0x21
func StopStream() Command { return Command{Opcode: CmdStopStream} }

// GetStatus 0x30
func GetStatus() Command { return Command{Opcode: CmdGetStatus} }

// Ping 0x01
func Ping() Command { return Command{Opcode: CmdPing} }

// ParseCommand 解析上行到设备的命令缓冲（模拟器侧使用）
func ParseCommand(b []byte) (Command, error) {
	if len(b) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrInvalidParameter)
	}
	op := b[0]
	if !KnownOpcode(op) {
		return Command{}, fmt.Errorf("%w: unknown opcode 0x%02X", ErrInvalidParameter, op)
	}
	want := payloadSize(op)
	if len(b)-1 != want {
		return Command{}, fmt.Errorf("%w: %s payload %d bytes, want %d", ErrInvalidParameter, OpcodeName(op), len(b)-1, want)
	}
	p := make([]byte, want)
	copy(p, b[1:])
	return Command{Opcode: op, Payload: p}, nil
}

func payloadSize(op uint8) int {
	switch op {
	case CmdSetWindows:
		return 8
	case CmdSetBlockRate, CmdSetTruncSamples, CmdSetFrameSamples:
		return 2
	case CmdSetFullMode, CmdSetProfile:
		return 1
	default:
		return 0
	}
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}
