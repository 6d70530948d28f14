package vnd

import (
	"bytes"
	"fmt"
	"strings"
)

// ChecksumPolicy CRC 校验策略
type ChecksumPolicy int

const (
	// ChecksumAlways 每帧都校验（默认）
	ChecksumAlways ChecksumPolicy = iota
	// ChecksumFlagged 仅当 flags bit2 置位时校验，与固件行为一致
	ChecksumFlagged
	// ChecksumOff 不校验，IntegrityOK 恒为 false
	ChecksumOff
)

// ParseChecksumPolicy 解析配置字符串：always|flagged|off
func ParseChecksumPolicy(s string) (ChecksumPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return ChecksumAlways, nil
	case "flagged":
		return ChecksumFlagged, nil
	case "off", "none":
		return ChecksumOff, nil
	}
	return ChecksumAlways, fmt.Errorf("unknown checksum policy %q", s)
}

// Stats 解帧器累计计数
type Stats struct {
	BytesIn             uint64 `json:"bytes_in"`
	Frames              uint64 `json:"frames"`
	StatusFrames        uint64 `json:"status_frames"`
	TestFrames          uint64 `json:"test_frames"`
	DataFrames          uint64 `json:"data_frames"`
	Acks                uint64 `json:"acks"`
	Unrecognized        uint64 `json:"unrecognized"`
	ChecksumMismatches  uint64 `json:"checksum_mismatches"`
	Desyncs             uint64 `json:"desyncs"`
	DiscardedBytes      uint64 `json:"discarded_bytes"`
	UnsupportedVersions uint64 `json:"unsupported_versions"`
}

// Deframer 流式解帧器：处理半包、粘包、损坏与失步。
// 内部累积缓冲只在 Feed 时增长、压缩；消费仅推进读索引。
type Deframer struct {
	buf []byte
	r   int

	policy     ChecksumPolicy
	versions   [256]bool
	maxSamples int

	// 当前是否处于一段连续的垃圾字节中（同一段只计一次失步）
	inGarbage bool
	stats     Stats
}

// Option 解帧器选项
type Option func(*Deframer)

// WithChecksumPolicy 设置校验策略
func WithChecksumPolicy(p ChecksumPolicy) Option {
	return func(d *Deframer) { d.policy = p }
}

// WithSupportedVersions 设置支持的头部版本；不在列表中的帧带警告标记上报
func WithSupportedVersions(versions ...uint8) Option {
	return func(d *Deframer) {
		if len(versions) == 0 {
			return
		}
		d.versions = [256]bool{}
		for _, v := range versions {
			d.versions[v] = true
		}
	}
}

// WithMaxSampleCount 设置 sample_count 合理上限
func WithMaxSampleCount(n int) Option {
	return func(d *Deframer) {
		if n > 0 {
			d.maxSamples = n
		}
	}
}

// NewDeframer 创建解帧器
func NewDeframer(opts ...Option) *Deframer {
	d := &Deframer{
		buf:        make([]byte, 0, 16*1024),
		policy:     ChecksumAlways,
		maxSamples: MaxSampleCount,
	}
	d.versions[ProtocolVersion] = true
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed 追加从传输层读到的字节
func (d *Deframer) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	d.stats.BytesIn += uint64(len(p))
	if d.r > 0 {
		n := copy(d.buf, d.buf[d.r:])
		d.buf = d.buf[:n]
		d.r = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered 尚未消费的字节数
func (d *Deframer) Buffered() int { return len(d.buf) - d.r }

// Stats 返回计数快照
func (d *Deframer) Stats() Stats { return d.stats }

// Reset 清空缓冲与同步状态（计数保留）
func (d *Deframer) Reset() {
	d.buf = d.buf[:0]
	d.r = 0
	d.inGarbage = false
}

// Next 解出下一帧；返回 false 表示需要更多字节
func (d *Deframer) Next() (Frame, bool) {
	for {
		b := d.buf[d.r:]
		if len(b) == 0 {
			return nil, false
		}

		// 1) 状态块：前缀匹配即等待补齐
		switch statusPrefix(b) {
		case prefixPartial:
			return nil, false
		case prefixFull:
			if len(b) < StatusSize {
				return nil, false
			}
			st, err := ParseStatus(b[:StatusSize])
			if err != nil {
				d.discard(1)
				continue
			}
			d.consume(StatusSize)
			d.stats.StatusFrames++
			return st, true
		}

		// 2) 应答：只在帧边界识别，垃圾段中间的 80/81 不算
		if !d.inGarbage && (b[0] == RspAck || b[0] == RspNack) {
			if len(b) < 2 {
				return nil, false
			}
			if KnownOpcode(b[1]) {
				ack := &AckFrame{Opcode: b[1], Positive: b[0] == RspAck}
				d.consume(2)
				d.stats.Acks++
				return ack, true
			}
		}

		// 3) 寻找同步点
		idx := findSync(b)
		if idx < 0 {
			d.discard(len(b) - tailKeep(b))
			return nil, false
		}
		if idx > 0 {
			d.discard(idx)
			continue
		}

		// 4) 头部未收齐，等待
		if len(b) < HeaderSize {
			return nil, false
		}
		h, _ := ParseHeader(b)
		if int(h.SampleCount) > d.maxSamples {
			// 长度不可信，视为伪 magic
			d.discard(len(magicBytes))
			continue
		}

		// 5) 整帧未收齐，保留头部等待
		total := h.FrameSize()
		if len(b) < total {
			return nil, false
		}
		raw := b[:total]
		payload := raw[HeaderSize:]

		verified, match := d.verify(h, raw[:HeaderSize], payload)
		if verified && !match {
			ev := &ChecksumMismatch{Header: h, Computed: FrameChecksum(raw[:HeaderSize], payload)}
			// 只丢弃 magic，剩余字节可能包含下一帧
			d.r += len(magicBytes)
			d.stats.DiscardedBytes += uint64(len(magicBytes))
			d.stats.ChecksumMismatches++
			d.inGarbage = false
			return ev, true
		}

		// 6) 按 flags 分类
		unsupported := !d.versions[h.Version]
		if unsupported {
			d.stats.UnsupportedVersions++
		}
		var f Frame
		switch {
		case h.Flags&FlagTest != 0 && h.SampleCount == TestSampleCount:
			f = &TestFrame{Header: h, UnsupportedVersion: unsupported}
			d.stats.TestFrames++
		case h.Flags&FlagTest == 0 && h.Flags&FlagChannelA != 0:
			f = &DataFrame{Header: h, Channel: ChannelA, Samples: decodeSamples(payload), IntegrityOK: verified && match, UnsupportedVersion: unsupported}
			d.stats.DataFrames++
		case h.Flags&FlagTest == 0 && h.Flags&FlagChannelB != 0:
			f = &DataFrame{Header: h, Channel: ChannelB, Samples: decodeSamples(payload), IntegrityOK: verified && match, UnsupportedVersion: unsupported}
			d.stats.DataFrames++
		default:
			f = &UnrecognizedChunk{Header: h, Bytes: append([]byte(nil), raw...), UnsupportedVersion: unsupported}
			d.stats.Unrecognized++
		}
		d.consume(total)
		return f, true
	}
}

func (d *Deframer) verify(h Header, header, payload []byte) (verified, match bool) {
	switch d.policy {
	case ChecksumOff:
		return false, false
	case ChecksumFlagged:
		if h.Flags&FlagCRC == 0 {
			return false, false
		}
	}
	return true, FrameChecksum(header, payload) == h.Checksum
}

// consume 消费一个完整帧
func (d *Deframer) consume(n int) {
	d.r += n
	d.stats.Frames++
	d.inGarbage = false
}

// discard 丢弃垃圾字节；一段连续垃圾只计一次失步
func (d *Deframer) discard(n int) {
	if n <= 0 {
		return
	}
	if !d.inGarbage {
		d.stats.Desyncs++
		d.inGarbage = true
	}
	d.stats.DiscardedBytes += uint64(n)
	d.r += n
}

type prefixMatch int

const (
	prefixNone prefixMatch = iota
	prefixPartial
	prefixFull
)

func statusPrefix(b []byte) prefixMatch {
	for _, m := range statusMarkers {
		if len(b) >= len(m) {
			if bytes.Equal(b[:len(m)], m) {
				return prefixFull
			}
			continue
		}
		if bytes.Equal(b, m[:len(b)]) {
			return prefixPartial
		}
	}
	return prefixNone
}

// findSync 返回最早的帧 magic 或状态块签名位置
func findSync(b []byte) int {
	best := bytes.Index(b, magicBytes)
	for _, m := range statusMarkers {
		if i := bytes.Index(b, m); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// tailKeep 无同步点时保留的尾部字节数：至少 magic 长度-1，
// 若尾部是状态块签名的前缀则整段保留
func tailKeep(b []byte) int {
	keep := len(magicBytes) - 1
	for _, m := range statusMarkers {
		for n := len(m) - 1; n > keep; n-- {
			if n <= len(b) && bytes.Equal(b[len(b)-n:], m[:n]) {
				keep = n
				break
			}
		}
	}
	if keep > len(b) {
		keep = len(b)
	}
	return keep
}
