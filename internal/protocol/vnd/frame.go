package vnd

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind 帧类型标签
type Kind int

const (
	KindStatus Kind = iota + 1
	KindTest
	KindData
	KindAck
	KindUnrecognized
	KindChecksumMismatch
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindTest:
		return "test"
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindUnrecognized:
		return "unrecognized"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown"
	}
}

// Frame 解帧器产出的带标签联合体
type Frame interface {
	Kind() Kind
}

// Channel 双通道 A/B
type Channel uint8

const (
	ChannelA Channel = iota
	ChannelB
)

func (c Channel) String() string {
	if c == ChannelB {
		return "B"
	}
	return "A"
}

func (c Channel) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Header 32 字节定长头部
type Header struct {
	Magic       uint16
	Version     uint8
	Flags       uint8
	Sequence    uint32
	Timestamp   uint32
	SampleCount uint16
	ZoneCount   uint16
	Zone1Offset uint32
	Zone1Length uint32
	Reserved    uint32
	Reserved2   uint16
	Checksum    uint16
}

// PayloadSize 载荷字节数
func (h Header) PayloadSize() int { return int(h.SampleCount) * 2 }

// FrameSize 整帧字节数
func (h Header) FrameSize() int { return HeaderSize + h.PayloadSize() }

// ParseHeader 解析头部（不校验 magic 与 CRC）
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	return Header{
		Magic:       le.Uint16(b[0:]),
		Version:     b[2],
		Flags:       b[3],
		Sequence:    le.Uint32(b[4:]),
		Timestamp:   le.Uint32(b[8:]),
		SampleCount: le.Uint16(b[12:]),
		ZoneCount:   le.Uint16(b[14:]),
		Zone1Offset: le.Uint32(b[16:]),
		Zone1Length: le.Uint32(b[20:]),
		Reserved:    le.Uint32(b[24:]),
		Reserved2:   le.Uint16(b[28:]),
		Checksum:    le.Uint16(b[30:]),
	}, nil
}

// Put 将头部写入 b（至少 HeaderSize 字节）
func (h Header) Put(b []byte) {
	le := binary.LittleEndian
	le.PutUint16(b[0:], h.Magic)
	b[2] = h.Version
	b[3] = h.Flags
	le.PutUint32(b[4:], h.Sequence)
	le.PutUint32(b[8:], h.Timestamp)
	le.PutUint16(b[12:], h.SampleCount)
	le.PutUint16(b[14:], h.ZoneCount)
	le.PutUint32(b[16:], h.Zone1Offset)
	le.PutUint32(b[20:], h.Zone1Length)
	le.PutUint32(b[24:], h.Reserved)
	le.PutUint16(b[28:], h.Reserved2)
	le.PutUint16(b[30:], h.Checksum)
}

// StatusFrame 64 字节状态块（v1 布局）。Raw 保留原始字节，其余字段为已知计数器。
type StatusFrame struct {
	Raw            [StatusSize]byte `json:"-" yaml:"-"`
	Marker         string
	Version        uint8
	CurSamples     uint16
	FrameBytes     uint16
	TestFrames     uint16
	ProducedSeq    uint32
	Sent0          uint32
	Sent1          uint32
	TxComplete     uint32
	PartialAbort   uint32
	SizeMismatch   uint32
	DMADone0       uint32
	DMADone1       uint32
	FrameWriteSeq  uint32
	RuntimeFlags   uint16
	Flags2         uint16
	SendingChannel uint8
}

func (*StatusFrame) Kind() Kind { return KindStatus }

// Diagnostic 是否为诊断固件的 ST2T 变体
func (s *StatusFrame) Diagnostic() bool { return s.Marker == string(DiagStatusMarker) }

// ParseStatus 解析状态块
func ParseStatus(b []byte) (*StatusFrame, error) {
	if len(b) < StatusSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortStatus, len(b))
	}
	if !hasStatusMarker(b) {
		return nil, fmt.Errorf("bad status marker % X", b[:4])
	}
	le := binary.LittleEndian
	s := &StatusFrame{
		Marker:         string(b[0:4]),
		Version:        b[4],
		CurSamples:     le.Uint16(b[6:]),
		FrameBytes:     le.Uint16(b[8:]),
		TestFrames:     le.Uint16(b[10:]),
		ProducedSeq:    le.Uint32(b[12:]),
		Sent0:          le.Uint32(b[16:]),
		Sent1:          le.Uint32(b[20:]),
		TxComplete:     le.Uint32(b[24:]),
		PartialAbort:   le.Uint32(b[28:]),
		SizeMismatch:   le.Uint32(b[32:]),
		DMADone0:       le.Uint32(b[36:]),
		DMADone1:       le.Uint32(b[40:]),
		FrameWriteSeq:  le.Uint32(b[44:]),
		RuntimeFlags:   le.Uint16(b[48:]),
		Flags2:         le.Uint16(b[50:]),
		SendingChannel: b[52],
	}
	copy(s.Raw[:], b[:StatusSize])
	return s, nil
}

func hasStatusMarker(b []byte) bool {
	for _, m := range statusMarkers {
		if bytes.HasPrefix(b, m) {
			return true
		}
	}
	return false
}

// TestFrame 活性标记帧（flags bit7，固定 8 个样本），会话开始时出现一次
type TestFrame struct {
	Header
	UnsupportedVersion bool
}

func (*TestFrame) Kind() Kind { return KindTest }

// DataFrame 通道数据帧
type DataFrame struct {
	Header
	Channel            Channel
	Samples            []int16
	IntegrityOK        bool
	UnsupportedVersion bool
}

func (*DataFrame) Kind() Kind { return KindData }

// AckFrame 2 字节应答：ACK/NACK 标记 + 回显命令码
type AckFrame struct {
	Opcode   uint8
	Positive bool
}

func (*AckFrame) Kind() Kind { return KindAck }

// UnrecognizedChunk 校验通过但 flags 无法归类的帧，原样转交
type UnrecognizedChunk struct {
	Header
	Bytes              []byte
	UnsupportedVersion bool
}

func (*UnrecognizedChunk) Kind() Kind { return KindUnrecognized }

// ChecksumMismatch 校验失败事件，代替被丢弃的帧上报
type ChecksumMismatch struct {
	Header
	Computed uint16
}

func (*ChecksumMismatch) Kind() Kind { return KindChecksumMismatch }

func (c *ChecksumMismatch) Error() string {
	return fmt.Sprintf("%v: seq=%d flags=0x%02X want=0x%04X got=0x%04X",
		ErrChecksumMismatch, c.Sequence, c.Flags, c.Computed, c.Checksum)
}

func (c *ChecksumMismatch) Unwrap() error { return ErrChecksumMismatch }

func decodeSamples(payload []byte) []int16 {
	out := make([]int16, len(payload)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return out
}
