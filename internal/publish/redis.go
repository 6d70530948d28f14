package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient Redis 发布所需的命令子集，*redis.Client 满足
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis 把最新事件写入 <prefix>:<device>:<topic>（带 TTL），并 PUBLISH 到同名频道
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
	closer func() error
}

// NewRedis 创建 Redis 发布器；client 为 *redis.Client 时 Close 会关闭连接
func NewRedis(client redisClient, prefix string, ttl time.Duration) *Redis {
	r := &Redis{client: client, prefix: prefix, ttl: ttl}
	if c, ok := client.(interface{ Close() error }); ok {
		r.closer = c.Close
	}
	return r
}

func (r *Redis) key(ev Event) string {
	device := ev.Device
	if device == "" {
		device = "default"
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, device, ev.Topic)
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	key := r.key(ev)
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	if err := r.client.Publish(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
