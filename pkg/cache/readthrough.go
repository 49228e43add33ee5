// Package cache 提供基于 Redis 的读穿透缓存，带固定 TTL 和失效通知。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"talanoor-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound 由 Loader 返回，表示数据源中不存在该条目。它会原样传给调用方且不会被缓存。
var ErrNotFound = errors.New("cache: not found")

// PurgeAll 是清空全部条目时广播的通知内容。
const PurgeAll = "*"

// Loader 从数据源加载一个条目。
type Loader[T any] func(ctx context.Context) (T, error)

// ReadThrough 是一个按 key 缓存 T 的读穿透缓存。
// 所有 key 都位于 prefix 之下；失效和刷新会在 prefix+":events" 频道上广播被影响的 key。
type ReadThrough[T any] struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	channel string
}

// NewReadThrough 创建一个读穿透缓存。
func NewReadThrough[T any](rdb *redis.Client, prefix string, ttl time.Duration) *ReadThrough[T] {
	return &ReadThrough[T]{
		rdb:     rdb,
		prefix:  prefix,
		ttl:     ttl,
		channel: prefix + ":events",
	}
}

func (c *ReadThrough[T]) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// Get 返回缓存中的值；未命中时调用 load，写入缓存后返回。
// Redis 不可用时直接回源，缓存只是加速手段。
func (c *ReadThrough[T]) Get(ctx context.Context, key string, load Loader[T]) (T, error) {
	raw, err := c.rdb.Get(ctx, c.redisKey(key)).Bytes()
	switch {
	case err == nil:
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return v, nil
		}
		log.Warnf("[cache] 缓存内容无法解析，重新加载: key=%s", key)
	case !errors.Is(err, redis.Nil):
		log.Warnf("[cache] 读取缓存失败，回源加载: key=%s, err=%v", key, err)
	}
	return c.fill(ctx, key, load)
}

// Refresh 无条件回源并覆盖缓存，然后广播该 key。
func (c *ReadThrough[T]) Refresh(ctx context.Context, key string, load Loader[T]) (T, error) {
	v, err := c.fill(ctx, key, load)
	if err != nil {
		return v, err
	}
	c.publish(ctx, key)
	return v, nil
}

// Invalidate 删除指定的 key；不传 key 时清空 prefix 下的全部条目。
func (c *ReadThrough[T]) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		if err := c.purge(ctx); err != nil {
			return err
		}
		c.publish(ctx, PurgeAll)
		return nil
	}

	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		redisKeys = append(redisKeys, c.redisKey(k))
	}
	if err := c.rdb.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("invalidate cache keys: %w", err)
	}
	for _, k := range keys {
		c.publish(ctx, k)
	}
	return nil
}

// Subscribe 订阅失效/刷新通知。返回的函数用于取消订阅并关闭通道。
func (c *ReadThrough[T]) Subscribe(ctx context.Context) (<-chan string, func(), error) {
	ps := c.rdb.Subscribe(ctx, c.channel)
	// 等待订阅确认，保证返回后发布的通知不会丢失
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe cache events: %w", err)
	}

	out := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- m.Payload:
				default:
					log.Warnf("[cache] 订阅者处理过慢，丢弃通知: %s", m.Payload)
				}
			}
		}
	}()

	var closed bool
	cancel := func() {
		if closed {
			return
		}
		closed = true
		close(done)
		_ = ps.Close()
	}
	return out, cancel, nil
}

func (c *ReadThrough[T]) fill(ctx context.Context, key string, load Loader[T]) (T, error) {
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v, fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.rdb.Set(ctx, c.redisKey(key), raw, c.ttl).Err(); err != nil {
		log.Warnf("[cache] 写入缓存失败: key=%s, err=%v", key, err)
	}
	return v, nil
}

func (c *ReadThrough[T]) purge(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, batch...).Err()
}

func (c *ReadThrough[T]) publish(ctx context.Context, key string) {
	if err := c.rdb.Publish(ctx, c.channel, key).Err(); err != nil {
		log.Warnf("[cache] 广播缓存通知失败: key=%s, err=%v", key, err)
	}
}
