package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// natsConn *nats.Conn 的发布子集
type natsConn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATS 发布到 <prefix>.<topic> 与 <prefix>.<device>.<topic>
type NATS struct {
	conn   natsConn
	prefix string
}

// DialNATS 连接 NATS 服务器
func DialNATS(url, prefix string, logger *zap.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("vndstream"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return NewNATS(nc, prefix), nil
}

// NewNATS 使用已有连接
func NewNATS(conn natsConn, prefix string) *NATS {
	return &NATS{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

func (n *NATS) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	subjects := []string{n.prefix + "." + ev.Topic}
	if ev.Device != "" {
		subjects = append(subjects, n.prefix+"."+subjectToken(ev.Device)+"."+ev.Topic)
	}
	for _, subj := range subjects {
		if err := n.conn.Publish(subj, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", subj, err)
		}
	}
	return nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

// subjectToken 设备名中的 . * > 空白不能出现在主题里
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
