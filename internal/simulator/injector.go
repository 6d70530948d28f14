package simulator

import (
	"fmt"
	"math/rand"

	"github.com/taoyao-code/vndstream/internal/protocol/vnd"
)

const maxHistory = 50

// Injector 故障注入器，所有随机性来自固定种子，便于复现
type Injector struct {
	rnd     *rand.Rand
	cfg     Config
	history []string
	counts  map[string]int
}

// NewInjector 创建注入器
func NewInjector(cfg Config) *Injector {
	return &Injector{
		rnd:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		counts: make(map[string]int),
	}
}

func (e *Injector) hit(rate float64) bool {
	return rate > 0 && e.rnd.Float64() < rate
}

// Garbage 按概率生成一段不含同步标记的垃圾字节
func (e *Injector) Garbage() []byte {
	if !e.hit(e.cfg.GarbageRate) {
		return nil
	}
	n := 1 + e.rnd.Intn(48)
	out := make([]byte, n)
	for i := range out {
		b := byte(e.rnd.Intn(256))
		// 避开 magic 与状态签名首字节；帧边界处的应答标记会被当作真实应答
		switch b {
		case 0x5A, 0xA5, 'S':
			b = 0x00
		case vnd.RspAck, vnd.RspNack:
			if i == 0 {
				b = 0x00
			}
		}
		out[i] = b
	}
	e.record("garbage", "%d bytes", n)
	return out
}

// FlipPayloadBit 按概率翻转一个载荷位（不触及头部），返回是否注入
func (e *Injector) FlipPayloadBit(frame []byte) bool {
	if len(frame) <= vnd.HeaderSize || !e.hit(e.cfg.BitFlipRate) {
		return false
	}
	pos := vnd.HeaderSize + e.rnd.Intn(len(frame)-vnd.HeaderSize)
	bit := uint(e.rnd.Intn(8))
	frame[pos] ^= 1 << bit
	e.record("bit_flip", "offset %d bit %d", pos, bit)
	return true
}

// DropB 按概率丢弃本周期的 B 帧
func (e *Injector) DropB(seq uint32) bool {
	if !e.hit(e.cfg.DropBRate) {
		return false
	}
	e.record("drop_b", "seq %d", seq)
	return true
}

// SkipSeq 按概率跳过一个序号
func (e *Injector) SkipSeq(seq uint32) bool {
	if !e.hit(e.cfg.SkipSeqRate) {
		return false
	}
	e.record("skip_seq", "seq %d", seq)
	return true
}

// Counts 各类故障注入次数
func (e *Injector) Counts() map[string]int {
	out := make(map[string]int, len(e.counts))
	for k, v := range e.counts {
		out[k] = v
	}
	return out
}

// History 最近的注入记录
func (e *Injector) History() []string {
	return append([]string(nil), e.history...)
}

// Reset 清空记录
func (e *Injector) Reset() {
	e.history = nil
	e.counts = make(map[string]int)
}

func (e *Injector) record(kind, format string, args ...interface{}) {
	e.counts[kind]++
	e.history = append(e.history, fmt.Sprintf("[%s] %s", kind, fmt.Sprintf(format, args...)))
	if len(e.history) > maxHistory {
		e.history = e.history[1:]
	}
}
