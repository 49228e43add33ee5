package supportclient

import (
	"context"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/pkg/log"
)

// DefaultPollInterval 是实时连接不可用时的轮询间隔。
const DefaultPollInterval = 10 * time.Second

// Poller 按固定间隔拉取完整消息列表，每次都整体替换调用方的状态。
// 失败只记录日志，下一次 tick 再试，不做退避。
type Poller struct {
	client   *Client
	chatID   string
	interval time.Duration
	onUpdate func([]model.Message)
}

// NewPoller 创建轮询器。interval <= 0 时使用 DefaultPollInterval。
func NewPoller(client *Client, chatID string, interval time.Duration, onUpdate func([]model.Message)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{client: client, chatID: chatID, interval: interval, onUpdate: onUpdate}
}

// Run 立即拉取一次，然后每个间隔拉取一次，直到 ctx 取消。
// 所有拉取都在调用方的 goroutine 中串行执行，两次请求不会重叠。
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	msgs, err := p.client.Messages(ctx, p.chatID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("[Poller] 拉取消息失败, chatId: %s, error: %v", p.chatID, err)
		}
		return
	}
	p.onUpdate(msgs)
}
