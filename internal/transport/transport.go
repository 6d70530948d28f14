package transport

import (
	"errors"
	"fmt"
	"time"
)

// Transport 一对 bulk 端点的最小抽象。
// Read 超时返回 0, nil；不可恢复的错误包装为 *Error。
type Transport interface {
	Read(p []byte, timeout time.Duration) (int, error)
	Write(p []byte, timeout time.Duration) (int, error)
	Close() error
}

var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("transport closed")
	// ErrNotFound 未找到目标设备
	ErrNotFound = errors.New("device not found")
)

// Error 传输层致命错误，会话随之终止
type Error struct {
	Kind string // usb|serial|replay|simulator
	Op   string // open|read|write|close
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transport %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsFatal 判断错误是否来自传输层
func IsFatal(err error) bool {
	var te *Error
	return errors.As(err, &te) || errors.Is(err, ErrClosed)
}
