package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

// SerialConfig CDC/串口参数（调试固件走虚拟串口时使用同一协议）
type SerialConfig struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// Serial 串口传输。端口读超时在打开时固定，Read 的 timeout 参数仅作上限参考。
type Serial struct {
	port   serial.Port
	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

// OpenSerial 打开串口
func OpenSerial(c SerialConfig, logger *zap.Logger) (*Serial, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.Timeout <= 0 {
		c.Timeout = 50 * time.Millisecond
	}
	port, err := serial.Open(&serial.Config{
		Address:  c.Address,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
		Timeout:  c.Timeout,
	})
	if err != nil {
		return nil, wrap("serial", "open", err)
	}
	logger.Info("serial port opened", zap.String("address", c.Address), zap.Int("baud", c.BaudRate))
	return &Serial{port: port, logger: logger}, nil
}

func (s *Serial) Read(p []byte, _ time.Duration) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	n, err := s.port.Read(p)
	if err != nil {
		if n > 0 || errors.Is(err, serial.ErrTimeout) {
			return n, nil
		}
		return n, wrap("serial", "read", err)
	}
	return n, nil
}

func (s *Serial) Write(p []byte, _ time.Duration) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	n, err := s.port.Write(p)
	return n, wrap("serial", "write", err)
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return wrap("serial", "close", s.port.Close())
}

func (s *Serial) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
