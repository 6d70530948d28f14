package transport

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Replay 回放抓取的原始上行字节。写入被丢弃；读完后返回 io.EOF（包装为 *Error）。
type Replay struct {
	mu     sync.Mutex
	data   []byte
	pos    int
	chunk  int
	loop   bool
	closed bool
	writes int
}

// ReplayOption 回放选项
type ReplayOption func(*Replay)

// WithChunkSize 每次 Read 最多返回的字节数，用于模拟 USB 传输切分
func WithChunkSize(n int) ReplayOption {
	return func(r *Replay) {
		if n > 0 {
			r.chunk = n
		}
	}
}

// WithLoop 读完后从头再来
func WithLoop(loop bool) ReplayOption {
	return func(r *Replay) { r.loop = loop }
}

// NewReplay 从内存数据构造
func NewReplay(data []byte, opts ...ReplayOption) *Replay {
	r := &Replay{data: data, chunk: 512}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenReplay 从文件加载
func OpenReplay(path string, opts ...ReplayOption) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrap("replay", "open", err)
	}
	if len(data) == 0 {
		return nil, wrap("replay", "open", fmt.Errorf("%s is empty", path))
	}
	return NewReplay(data, opts...), nil
}

func (r *Replay) Read(p []byte, _ time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	if r.pos >= len(r.data) {
		if !r.loop || len(r.data) == 0 {
			return 0, wrap("replay", "read", io.EOF)
		}
		r.pos = 0
	}
	n := len(p)
	if n > r.chunk {
		n = r.chunk
	}
	n = copy(p[:n], r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *Replay) Write(p []byte, _ time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	r.writes++
	return len(p), nil
}

// Writes 被丢弃的写入次数
func (r *Replay) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
