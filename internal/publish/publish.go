package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 事件主题
const (
	TopicStats  = "stats"
	TopicReport = "report"
)

// Event 发布的消息体
type Event struct {
	Device string    `json:"device,omitempty"`
	RunID  string    `json:"run_id,omitempty"`
	Topic  string    `json:"topic"`
	At     time.Time `json:"at"`
	Data   any       `json:"data"`
}

// Publisher 会话统计与报告的外发通道
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

func encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Topic, err)
	}
	return data, nil
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Fanout 依次投递到多个发布器，错误合并返回
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine 去掉 nil 后组合；为空时返回 Nop
func Combine(pubs ...Publisher) Publisher {
	var out Fanout
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return out
}
