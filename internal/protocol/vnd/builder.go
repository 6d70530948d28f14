package vnd

import "encoding/binary"

// 设备侧编码：模拟器、回放样本与测试构造上行字节流使用

// EncodeFrame 构造一帧：补齐 magic 与 sample_count，计算并写入 CRC16
func EncodeFrame(h Header, samples []int16) []byte {
	h.Magic = Magic
	h.SampleCount = uint16(len(samples))
	out := make([]byte, HeaderSize+len(samples)*2)
	payload := out[HeaderSize:]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}
	h.Checksum = 0
	h.Put(out)
	h.Checksum = FrameChecksum(out[:HeaderSize], payload)
	binary.LittleEndian.PutUint16(out[checksumOffset:], h.Checksum)
	return out
}

// EncodeDataFrame 构造通道数据帧
func EncodeDataFrame(ch Channel, seq, ts uint32, samples []int16) []byte {
	flags := FlagChannelA | FlagCRC
	if ch == ChannelB {
		flags = FlagChannelB | FlagCRC
	}
	return EncodeFrame(Header{Version: ProtocolVersion, Flags: flags, Sequence: seq, Timestamp: ts}, samples)
}

// EncodeTestFrame 构造测试帧（bit7|bit0，附 CRC 标志，8 个样本）
func EncodeTestFrame(seq, ts uint32) []byte {
	samples := make([]int16, TestSampleCount)
	for i := range samples {
		samples[i] = int16(i)
	}
	return EncodeFrame(Header{Version: ProtocolVersion, Flags: FlagTest | FlagChannelA | FlagCRC, Sequence: seq, Timestamp: ts}, samples)
}

// EncodeStatus 构造 64 字节状态块；Marker 为空时使用 STAT
func EncodeStatus(s StatusFrame) []byte {
	out := make([]byte, StatusSize)
	marker := s.Marker
	if marker == "" {
		marker = string(StatusMarker)
	}
	copy(out[0:4], marker)
	le := binary.LittleEndian
	out[4] = s.Version
	le.PutUint16(out[6:], s.CurSamples)
	le.PutUint16(out[8:], s.FrameBytes)
	le.PutUint16(out[10:], s.TestFrames)
	le.PutUint32(out[12:], s.ProducedSeq)
	le.PutUint32(out[16:], s.Sent0)
	le.PutUint32(out[20:], s.Sent1)
	le.PutUint32(out[24:], s.TxComplete)
	le.PutUint32(out[28:], s.PartialAbort)
	le.PutUint32(out[32:], s.SizeMismatch)
	le.PutUint32(out[36:], s.DMADone0)
	le.PutUint32(out[40:], s.DMADone1)
	le.PutUint32(out[44:], s.FrameWriteSeq)
	le.PutUint16(out[48:], s.RuntimeFlags)
	le.PutUint16(out[50:], s.Flags2)
	out[52] = s.SendingChannel
	return out
}

// EncodeAck 构造 2 字节应答
func EncodeAck(opcode uint8, positive bool) []byte {
	if positive {
		return []byte{RspAck, opcode}
	}
	return []byte{RspNack, opcode}
}
