package vnd

import "errors"

var (
	// ErrInvalidParameter 命令参数超出取值范围
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrChecksumMismatch CRC16 校验失败（帧被丢弃，可恢复）
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrProtocolDesync 丢弃垃圾字节后重新同步（可恢复）
	ErrProtocolDesync = errors.New("protocol desync")
	// ErrUnsupportedVersion 头部版本不在支持列表内（帧仍然上报）
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrShortStatus 状态块长度不足
	ErrShortStatus = errors.New("short status blob")
)
