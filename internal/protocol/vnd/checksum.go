package vnd

// CRC-16/CCITT-FALSE：poly=0x1021 init=0xFFFF，无反射，无异或输出
const (
	crcPoly uint16 = 0x1021
	crcInit uint16 = 0xFFFF
)

var crcTable = func() [256]uint16 {
	var t [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// UpdateCRC16 以 crc 为初值继续累加 data
func UpdateCRC16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// CRC16 计算 data 的 CCITT-FALSE 校验值
func CRC16(data []byte) uint16 {
	return UpdateCRC16(crcInit, data)
}

// FrameChecksum 计算一帧的校验值：头部 0..29 字节 + 载荷。
// 校验字段本身（头部末尾 2 字节）不参与计算。
func FrameChecksum(header, payload []byte) uint16 {
	crc := UpdateCRC16(crcInit, header[:checksumOffset])
	return UpdateCRC16(crc, payload)
}
