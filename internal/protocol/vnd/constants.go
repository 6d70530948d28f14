package vnd

import "fmt"

// 帧格式常量（固件版本：头部内嵌 CRC16）
// 布局（小端）：
// magic[2] 5A A5 | ver[1] | flags[1] | seq[4] | ts[4] | samples[2] | zoneCount[2] |
// zone1Off[4] | zone1Len[4] | rsv[4] | rsv2[2] | crc16[2] | payload[samples*2]
const (
	Magic      uint16 = 0xA55A
	HeaderSize        = 32
	StatusSize        = 64

	checksumOffset = 30

	// MaxSampleCount 头部 sample_count 的合理上限，超出视为伪 magic
	MaxSampleCount = 32768

	// TestSampleCount 测试帧固定样本数
	TestSampleCount = 8

	// ProtocolVersion 当前支持的头部版本
	ProtocolVersion uint8 = 1
)

// 头部 flags 位
const (
	FlagChannelA uint8 = 0x01
	FlagChannelB uint8 = 0x02
	FlagCRC      uint8 = 0x04
	FlagTest     uint8 = 0x80
)

// 应答标记
const (
	RspAck  uint8 = 0x80
	RspNack uint8 = 0x81
)

// 命令码
const (
	CmdPing            uint8 = 0x01
	CmdSetWindows      uint8 = 0x10
	CmdSetBlockRate    uint8 = 0x11
	CmdSetFullMode     uint8 = 0x13
	CmdSetProfile      uint8 = 0x14
	CmdSetTruncSamples uint8 = 0x16
	CmdSetFrameSamples uint8 = 0x17
	CmdStartStream     uint8 = 0x20
	CmdStopStream      uint8 = 0x21
	CmdGetStatus       uint8 = 0x30
)

var (
	magicBytes = []byte{0x5A, 0xA5}

	// StatusMarker 常规状态块签名；DiagStatusMarker 为诊断固件变体
	StatusMarker     = []byte("STAT")
	DiagStatusMarker = []byte("ST2T")

	statusMarkers = [][]byte{StatusMarker, DiagStatusMarker}
)

var opcodeNames = map[uint8]string{
	CmdPing:            "PING",
	CmdSetWindows:      "SET_WINDOWS",
	CmdSetBlockRate:    "SET_BLOCK_RATE",
	CmdSetFullMode:     "SET_FULL_MODE",
	CmdSetProfile:      "SET_PROFILE",
	CmdSetTruncSamples: "SET_TRUNC_SAMPLES",
	CmdSetFrameSamples: "SET_FRAME_SAMPLES",
	CmdStartStream:     "START_STREAM",
	CmdStopStream:      "STOP_STREAM",
	CmdGetStatus:       "GET_STATUS",
}

// KnownOpcode 判断命令码是否属于命令集
func KnownOpcode(op uint8) bool {
	_, ok := opcodeNames[op]
	return ok
}

// OpcodeName 返回命令名，未知命令返回十六进制表示
func OpcodeName(op uint8) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", op)
}
