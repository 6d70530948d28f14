package vnd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSamples(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i * 3)
	}
	return s
}

func testStatus(curSamples uint16) []byte {
	return EncodeStatus(StatusFrame{
		Version:     1,
		CurSamples:  curSamples,
		FrameBytes:  HeaderSize + curSamples*2,
		TestFrames:  1,
		ProducedSeq: 10,
		Sent0:       4,
		Sent1:       4,
	})
}

// sessionStream 典型会话字节流：STAT, TEST, A/B 对, ACK, STAT
func sessionStream() []byte {
	var buf bytes.Buffer
	buf.Write(testStatus(240))
	buf.Write(EncodeTestFrame(0, 0))
	buf.Write(EncodeDataFrame(ChannelA, 10, 1000, testSamples(240)))
	buf.Write(EncodeDataFrame(ChannelB, 10, 1000, testSamples(240)))
	buf.Write(EncodeAck(CmdSetBlockRate, true))
	buf.Write(EncodeDataFrame(ChannelA, 11, 1005, testSamples(240)))
	buf.Write(EncodeDataFrame(ChannelB, 11, 1005, testSamples(240)))
	buf.Write(EncodeAck(CmdSetProfile, false))
	buf.Write(testStatus(240))
	return buf.Bytes()
}

func drain(d *Deframer) []Frame {
	var out []Frame
	for {
		f, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func decodeChunks(stream []byte, chunk int) ([]Frame, Stats) {
	d := NewDeframer()
	var out []Frame
	for i := 0; i < len(stream); i += chunk {
		end := i + chunk
		if end > len(stream) {
			end = len(stream)
		}
		d.Feed(stream[i:end])
		out = append(out, drain(d)...)
	}
	return out, d.Stats()
}

func kinds(frames []Frame) []Kind {
	out := make([]Kind, len(frames))
	for i, f := range frames {
		out[i] = f.Kind()
	}
	return out
}

func TestDeframerSingleChunk(t *testing.T) {
	frames, stats := decodeChunks(sessionStream(), len(sessionStream()))

	require.Equal(t, []Kind{
		KindStatus, KindTest, KindData, KindData, KindAck, KindData, KindData, KindAck, KindStatus,
	}, kinds(frames))

	st := frames[0].(*StatusFrame)
	assert.Equal(t, "STAT", st.Marker)
	assert.Equal(t, uint16(240), st.CurSamples)
	assert.Equal(t, uint32(10), st.ProducedSeq)
	assert.False(t, st.Diagnostic())

	test := frames[1].(*TestFrame)
	assert.Equal(t, uint16(TestSampleCount), test.SampleCount)

	a := frames[2].(*DataFrame)
	assert.Equal(t, ChannelA, a.Channel)
	assert.Equal(t, uint32(10), a.Sequence)
	assert.True(t, a.IntegrityOK)
	assert.Equal(t, testSamples(240), a.Samples)

	b := frames[3].(*DataFrame)
	assert.Equal(t, ChannelB, b.Channel)

	assert.Equal(t, &AckFrame{Opcode: CmdSetBlockRate, Positive: true}, frames[4])
	assert.Equal(t, &AckFrame{Opcode: CmdSetProfile, Positive: false}, frames[7])

	assert.Equal(t, uint64(len(sessionStream())), stats.BytesIn)
	assert.Equal(t, uint64(9), stats.Frames)
	assert.Equal(t, uint64(4), stats.DataFrames)
	assert.Equal(t, uint64(2), stats.Acks)
	assert.Zero(t, stats.Desyncs)
	assert.Zero(t, stats.DiscardedBytes)
}

func TestDeframerBoundaryIndependence(t *testing.T) {
	stream := sessionStream()
	want, _ := decodeChunks(stream, len(stream))

	t.Run("one byte at a time", func(t *testing.T) {
		got, stats := decodeChunks(stream, 1)
		assert.Equal(t, want, got)
		assert.Zero(t, stats.Desyncs)
	})

	t.Run("every split point", func(t *testing.T) {
		for i := 1; i < len(stream); i++ {
			d := NewDeframer()
			d.Feed(stream[:i])
			got := drain(d)
			d.Feed(stream[i:])
			got = append(got, drain(d)...)
			require.Equal(t, want, got, "split at %d", i)
		}
	})

	t.Run("odd chunk sizes", func(t *testing.T) {
		for _, size := range []int{3, 7, 31, 33, 63, 65, 512} {
			got, _ := decodeChunks(stream, size)
			require.Equal(t, want, got, "chunk %d", size)
		}
	})
}

func TestDeframerSingleBitCorruption(t *testing.T) {
	frames := [][]byte{
		EncodeDataFrame(ChannelA, 1, 100, testSamples(240)),
		EncodeDataFrame(ChannelB, 1, 100, testSamples(240)),
		EncodeDataFrame(ChannelA, 2, 105, testSamples(240)),
		EncodeDataFrame(ChannelB, 2, 105, testSamples(240)),
	}
	clean := bytes.Join(frames, nil)
	corrupt := append([]byte(nil), clean...)
	corrupt[HeaderSize+41] ^= 0x08

	want, _ := decodeChunks(clean, len(clean))
	got, stats := decodeChunks(corrupt, len(corrupt))

	require.Len(t, got, 4)
	mismatch, ok := got[0].(*ChecksumMismatch)
	require.True(t, ok, "first event should be a checksum mismatch, got %T", got[0])
	assert.ErrorIs(t, mismatch, ErrChecksumMismatch)
	assert.Equal(t, uint32(1), mismatch.Sequence)
	assert.NotEqual(t, mismatch.Checksum, mismatch.Computed)

	assert.Equal(t, want[1:], got[1:])
	assert.Equal(t, uint64(1), stats.ChecksumMismatches)
	assert.Equal(t, uint64(len(frames[0])), stats.DiscardedBytes)

	// 逐字节输入结果一致
	gotBytewise, _ := decodeChunks(corrupt, 1)
	assert.Equal(t, got, gotBytewise)
}

func TestDeframerGarbagePrefix(t *testing.T) {
	stream := sessionStream()
	prefix := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x01, 0x7F, 0xEE, 0x5A, 0x10}
	want, _ := decodeChunks(stream, len(stream))

	for _, chunk := range []int{1, 4, len(prefix) + len(stream)} {
		got, stats := decodeChunks(append(append([]byte(nil), prefix...), stream...), chunk)
		assert.Equal(t, want, got, "chunk %d", chunk)
		assert.Equal(t, uint64(1), stats.Desyncs, "chunk %d", chunk)
		assert.Equal(t, uint64(len(prefix)), stats.DiscardedBytes, "chunk %d", chunk)
	}
}

func TestDeframerWaitsForIncompleteFrame(t *testing.T) {
	frame := EncodeDataFrame(ChannelA, 7, 0, testSamples(16))
	d := NewDeframer()

	d.Feed(frame[:20])
	_, ok := d.Next()
	assert.False(t, ok)

	d.Feed(frame[20:HeaderSize+4])
	_, ok = d.Next()
	assert.False(t, ok)
	assert.Equal(t, HeaderSize+4, d.Buffered())

	d.Feed(frame[HeaderSize+4:])
	f, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, uint32(7), f.(*DataFrame).Sequence)
	assert.Zero(t, d.Buffered())
	assert.Zero(t, d.Stats().DiscardedBytes)
}

func TestDeframerSpuriousMagic(t *testing.T) {
	fake := make([]byte, HeaderSize)
	Header{Magic: Magic, Version: 1, Flags: FlagChannelA, SampleCount: 0xFFFF}.Put(fake)
	valid := EncodeDataFrame(ChannelB, 3, 0, testSamples(8))

	d := NewDeframer()
	d.Feed(append(fake, valid...))
	frames := drain(d)

	require.Len(t, frames, 1)
	assert.Equal(t, uint32(3), frames[0].(*DataFrame).Sequence)
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Desyncs)
	assert.Equal(t, uint64(HeaderSize), stats.DiscardedBytes)
}

func TestDeframerMaxSampleCountOption(t *testing.T) {
	d := NewDeframer(WithMaxSampleCount(100))
	d.Feed(EncodeDataFrame(ChannelA, 1, 0, testSamples(101)))
	d.Feed(EncodeDataFrame(ChannelA, 2, 0, testSamples(100)))

	frames := drain(d)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(2), frames[0].(*DataFrame).Sequence)
	assert.Equal(t, uint64(1), d.Stats().Desyncs)
}

func TestDeframerStatusVariants(t *testing.T) {
	diag := testStatus(120)
	copy(diag, DiagStatusMarker)

	d := NewDeframer()
	d.Feed(diag[:3])
	_, ok := d.Next()
	assert.False(t, ok, "partial marker must wait")

	d.Feed(diag[3:40])
	_, ok = d.Next()
	assert.False(t, ok, "short status must wait")

	d.Feed(diag[40:])
	f, ok := d.Next()
	require.True(t, ok)
	st := f.(*StatusFrame)
	assert.True(t, st.Diagnostic())
	assert.Equal(t, uint16(120), st.CurSamples)
	assert.Equal(t, diag, st.Raw[:])
}

func TestDeframerAckBytesInsideGarbage(t *testing.T) {
	stream := sessionStream()
	// 垃圾段中夹着形似 ACK/NACK 的字节
	garbage := []byte{0x01, 0x02, RspAck, CmdStartStream, 0x03, RspNack, CmdSetWindows, 0x44}
	full := append(append([]byte(nil), garbage...), stream...)
	want, _ := decodeChunks(stream, len(stream))

	t.Run("every split point", func(t *testing.T) {
		for i := 1; i < len(full); i++ {
			d := NewDeframer()
			d.Feed(full[:i])
			got := drain(d)
			d.Feed(full[i:])
			got = append(got, drain(d)...)
			require.Equal(t, want, got, "split at %d", i)
			st := d.Stats()
			require.Equal(t, uint64(1), st.Desyncs, "split at %d", i)
			require.Equal(t, uint64(2), st.Acks, "split at %d", i)
			require.Equal(t, uint64(len(garbage)), st.DiscardedBytes, "split at %d", i)
		}
	})

	t.Run("one byte at a time", func(t *testing.T) {
		got, st := decodeChunks(full, 1)
		assert.Equal(t, want, got)
		assert.Equal(t, uint64(1), st.Desyncs)
	})

	t.Run("split between marker and opcode", func(t *testing.T) {
		d := NewDeframer()
		d.Feed(garbage[:3])
		assert.Empty(t, drain(d))
		d.Feed(garbage[3:])
		d.Feed(EncodeDataFrame(ChannelA, 1, 0, testSamples(4)))
		frames := drain(d)
		require.Len(t, frames, 1)
		assert.Equal(t, KindData, frames[0].Kind())
		assert.Zero(t, d.Stats().Acks)
	})
}

func TestDeframerAckAfterFrameBoundary(t *testing.T) {
	// 帧边界之后（含流起点）的 80/81 + 已知 opcode 是真实应答，与分块无关
	var buf bytes.Buffer
	buf.Write(EncodeAck(CmdSetWindows, false))
	buf.Write(EncodeDataFrame(ChannelA, 1, 0, testSamples(4)))
	buf.Write(EncodeAck(CmdStartStream, true))
	stream := buf.Bytes()

	want := []Kind{KindAck, KindData, KindAck}
	for _, chunk := range []int{1, 2, 3, len(stream)} {
		got, st := decodeChunks(stream, chunk)
		assert.Equal(t, want, kinds(got), "chunk %d", chunk)
		assert.Zero(t, st.Desyncs, "chunk %d", chunk)
	}
}

func TestDeframerAckHandling(t *testing.T) {
	t.Run("split ack", func(t *testing.T) {
		d := NewDeframer()
		d.Feed([]byte{RspAck})
		_, ok := d.Next()
		assert.False(t, ok)
		d.Feed([]byte{CmdStopStream})
		f, ok := d.Next()
		require.True(t, ok)
		assert.Equal(t, &AckFrame{Opcode: CmdStopStream, Positive: true}, f)
	})

	t.Run("unknown opcode is garbage", func(t *testing.T) {
		d := NewDeframer()
		d.Feed([]byte{RspAck, 0x99})
		d.Feed(EncodeDataFrame(ChannelA, 1, 0, testSamples(4)))
		frames := drain(d)
		require.Len(t, frames, 1)
		assert.Equal(t, KindData, frames[0].Kind())
		assert.Equal(t, uint64(2), d.Stats().DiscardedBytes)
	})
}

func TestDeframerChecksumPolicy(t *testing.T) {
	// 未置 CRC 标志且校验字段错误的帧
	raw := EncodeFrame(Header{Version: 1, Flags: FlagChannelA, Sequence: 5}, testSamples(4))
	raw[30] ^= 0xFF

	tests := []struct {
		name      string
		policy    ChecksumPolicy
		wantKind  Kind
		integrity bool
	}{
		{"always", ChecksumAlways, KindChecksumMismatch, false},
		{"flagged", ChecksumFlagged, KindData, false},
		{"off", ChecksumOff, KindData, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDeframer(WithChecksumPolicy(tt.policy))
			d.Feed(raw)
			f, ok := d.Next()
			require.True(t, ok)
			require.Equal(t, tt.wantKind, f.Kind())
			if df, ok := f.(*DataFrame); ok {
				assert.Equal(t, tt.integrity, df.IntegrityOK)
			}
		})
	}

	t.Run("flagged verifies when bit set", func(t *testing.T) {
		bad := EncodeDataFrame(ChannelA, 1, 0, testSamples(4))
		bad[HeaderSize] ^= 0x01
		d := NewDeframer(WithChecksumPolicy(ChecksumFlagged))
		d.Feed(bad)
		f, ok := d.Next()
		require.True(t, ok)
		assert.Equal(t, KindChecksumMismatch, f.Kind())
	})
}

func TestParseChecksumPolicy(t *testing.T) {
	for in, want := range map[string]ChecksumPolicy{
		"":        ChecksumAlways,
		"always":  ChecksumAlways,
		"Flagged": ChecksumFlagged,
		"off":     ChecksumOff,
	} {
		got, err := ParseChecksumPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseChecksumPolicy("sometimes")
	assert.Error(t, err)
}

func TestDeframerClassification(t *testing.T) {
	tests := []struct {
		name   string
		header Header
		n      int
		want   Kind
	}{
		{"test frame", Header{Version: 1, Flags: FlagTest | FlagCRC}, TestSampleCount, KindTest},
		{"test bit wrong count", Header{Version: 1, Flags: FlagTest | FlagChannelA}, 4, KindUnrecognized},
		{"no channel bits", Header{Version: 1, Flags: FlagCRC}, 4, KindUnrecognized},
		{"channel b", Header{Version: 1, Flags: FlagChannelB}, 4, KindData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EncodeFrame(tt.header, testSamples(tt.n))
			d := NewDeframer()
			d.Feed(raw)
			f, ok := d.Next()
			require.True(t, ok)
			assert.Equal(t, tt.want, f.Kind())
			if u, ok := f.(*UnrecognizedChunk); ok {
				assert.Equal(t, raw, u.Bytes)
			}
		})
	}
}

func TestDeframerUnsupportedVersion(t *testing.T) {
	d := NewDeframer()
	d.Feed(EncodeFrame(Header{Version: 2, Flags: FlagChannelA}, testSamples(4)))
	d.Feed(EncodeFrame(Header{Version: 2, Flags: FlagTest}, testSamples(TestSampleCount)))
	d.Feed(EncodeFrame(Header{Version: 2, Flags: FlagCRC}, testSamples(4)))

	frames := drain(d)
	require.Len(t, frames, 3)
	assert.True(t, frames[0].(*DataFrame).UnsupportedVersion)
	assert.True(t, frames[1].(*TestFrame).UnsupportedVersion)
	assert.True(t, frames[2].(*UnrecognizedChunk).UnsupportedVersion)
	assert.Equal(t, uint64(3), d.Stats().UnsupportedVersions)

	d2 := NewDeframer(WithSupportedVersions(1, 2))
	d2.Feed(EncodeFrame(Header{Version: 2, Flags: FlagChannelA}, testSamples(4)))
	f, ok := d2.Next()
	require.True(t, ok)
	assert.False(t, f.(*DataFrame).UnsupportedVersion)

	d3 := NewDeframer()
	d3.Feed(EncodeFrame(Header{Version: 1, Flags: FlagCRC}, testSamples(4)))
	f, ok = d3.Next()
	require.True(t, ok)
	assert.False(t, f.(*UnrecognizedChunk).UnsupportedVersion)
}

func TestDeframerFramesOwnMemory(t *testing.T) {
	raw := EncodeFrame(Header{Version: 1, Flags: FlagCRC}, testSamples(4))
	d := NewDeframer()
	d.Feed(raw)
	f, ok := d.Next()
	require.True(t, ok)
	chunk := f.(*UnrecognizedChunk)

	// 压缩并覆盖累积缓冲
	d.Feed(bytes.Repeat([]byte{0xEE}, len(raw)*2))
	drain(d)
	assert.Equal(t, raw, chunk.Bytes)
}

func TestDeframerReset(t *testing.T) {
	d := NewDeframer()
	frame := EncodeDataFrame(ChannelA, 1, 0, testSamples(4))
	d.Feed(frame[:10])
	d.Reset()
	assert.Zero(t, d.Buffered())

	d.Feed(frame)
	f, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, KindData, f.Kind())
}
