package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// USBConfig 厂商接口定位参数
type USBConfig struct {
	VendorID    uint16
	ProductID   uint16
	Config      int
	Interface   int
	AltSetting  int
	EndpointIn  int // 端点地址，如 0x83
	EndpointOut int // 端点地址，如 0x03
}

// USB 基于 libusb 的 vendor bulk 传输
type USB struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

// OpenUSB 打开设备并声明接口
func OpenUSB(c USBConfig, logger *zap.Logger) (_ *USB, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u := &USB{ctx: gousb.NewContext(), logger: logger}
	defer func() {
		if err != nil {
			u.release()
		}
	}()

	u.dev, err = u.ctx.OpenDeviceWithVIDPID(gousb.ID(c.VendorID), gousb.ID(c.ProductID))
	if err != nil {
		return nil, wrap("usb", "open", err)
	}
	if u.dev == nil {
		return nil, wrap("usb", "open", fmt.Errorf("%w: %04x:%04x", ErrNotFound, c.VendorID, c.ProductID))
	}
	if err = u.dev.SetAutoDetach(true); err != nil {
		logger.Warn("usb auto detach unsupported", zap.Error(err))
	}

	cfgNum := c.Config
	if cfgNum <= 0 {
		cfgNum = 1
	}
	if u.cfg, err = u.dev.Config(cfgNum); err != nil {
		return nil, wrap("usb", "open", fmt.Errorf("config %d: %w", cfgNum, err))
	}
	if u.intf, err = u.cfg.Interface(c.Interface, c.AltSetting); err != nil {
		return nil, wrap("usb", "open", fmt.Errorf("interface %d alt %d: %w", c.Interface, c.AltSetting, err))
	}
	if u.in, err = u.intf.InEndpoint(c.EndpointIn & 0x0F); err != nil {
		return nil, wrap("usb", "open", fmt.Errorf("in endpoint 0x%02X: %w", c.EndpointIn, err))
	}
	if u.out, err = u.intf.OutEndpoint(c.EndpointOut & 0x0F); err != nil {
		return nil, wrap("usb", "open", fmt.Errorf("out endpoint 0x%02X: %w", c.EndpointOut, err))
	}

	logger.Info("usb device opened",
		zap.String("vid_pid", fmt.Sprintf("%04x:%04x", c.VendorID, c.ProductID)),
		zap.Int("interface", c.Interface),
		zap.String("ep_in", fmt.Sprintf("0x%02X", c.EndpointIn)),
		zap.String("ep_out", fmt.Sprintf("0x%02X", c.EndpointOut)),
		zap.Int("max_packet", u.in.Desc.MaxPacketSize))
	return u, nil
}

// Read 限时读取 bulk-IN；超时返回 0, nil
func (u *USB) Read(p []byte, timeout time.Duration) (int, error) {
	if u.isClosed() {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := u.in.ReadContext(ctx, p)
	if err != nil {
		if n > 0 || isUSBTimeout(ctx, err) {
			return n, nil
		}
		return n, wrap("usb", "read", err)
	}
	return n, nil
}

// Write 限时写 bulk-OUT
func (u *USB) Write(p []byte, timeout time.Duration) (int, error) {
	if u.isClosed() {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := u.out.WriteContext(ctx, p)
	if err != nil {
		if isUSBTimeout(ctx, err) {
			return n, wrap("usb", "write", fmt.Errorf("timeout after %s: %w", timeout, err))
		}
		return n, wrap("usb", "write", err)
	}
	return n, nil
}

// Close 释放接口与设备
func (u *USB) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()
	return u.release()
}

func (u *USB) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

func (u *USB) release() error {
	if u.intf != nil {
		u.intf.Close()
	}
	var errs []error
	if u.cfg != nil {
		errs = append(errs, u.cfg.Close())
	}
	if u.dev != nil {
		errs = append(errs, u.dev.Close())
	}
	if u.ctx != nil {
		errs = append(errs, u.ctx.Close())
	}
	return wrap("usb", "close", errors.Join(errs...))
}

func isUSBTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		(errors.Is(err, gousb.TransferCancelled) && ctx.Err() != nil)
}
