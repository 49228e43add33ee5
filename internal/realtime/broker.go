// Package realtime 负责把对话事件实时推送给正在查看该对话的客户端，取代固定间隔轮询。
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// 事件类型
const (
	EventMessage = "message"
	EventStatus  = "status"
)

// Event 是推送给订阅者的一条对话事件。
type Event struct {
	Type    string         `json:"type"`
	ChatID  string         `json:"chatId"`
	Message *model.Message `json:"message,omitempty"`
	Status  string         `json:"status,omitempty"`
	At      time.Time      `json:"at"`
}

// NewMessageEvent 构造新消息事件。
func NewMessageEvent(msg model.Message) Event {
	return Event{Type: EventMessage, ChatID: msg.ChatID, Message: &msg, At: msg.CreatedAt}
}

// NewStatusEvent 构造状态变更事件。
func NewStatusEvent(chatID, status string) Event {
	return Event{Type: EventStatus, ChatID: chatID, Status: status, At: time.Now()}
}

// Broker 是对话事件的发布/订阅接口。
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe 返回该对话的事件流，调用返回的函数取消订阅。
	Subscribe(ctx context.Context, chatID string) (<-chan Event, func(), error)
}

// RedisBroker 基于 Redis pub/sub 实现 Broker，多个服务实例之间共享事件。
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker 创建一个 RedisBroker。
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func channelFor(chatID string) string {
	return "chat:events:" + chatID
}

// Publish 把事件序列化后发布到对话频道。
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal chat event: %w", err)
	}
	return b.rdb.Publish(ctx, channelFor(ev.ChatID), payload).Err()
}

// Subscribe 订阅单个对话的事件。订阅在返回前已被 Redis 确认。
func (b *RedisBroker) Subscribe(ctx context.Context, chatID string) (<-chan Event, func(), error) {
	ps := b.rdb.Subscribe(ctx, channelFor(chatID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe chat %s: %w", chatID, err)
	}

	out := make(chan Event, 32)
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
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					log.Warnf("[realtime] 无法解析对话事件: chat=%s, err=%v", chatID, err)
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				case <-ctx.Done():
					return
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
