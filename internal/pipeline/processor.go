// Package pipeline 定义了消息索引的后台处理流程。
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"talanoor-go/internal/model"
	"talanoor-go/pkg/log"
	"talanoor-go/pkg/metrics"
	"talanoor-go/pkg/tasks"
)

// MessageIndexer 是写入检索索引的最小接口，由 es.MessageIndex 实现。
type MessageIndexer interface {
	IndexMessage(ctx context.Context, doc model.MessageDocument) error
}

// Processor 消费消息索引任务并写入 Elasticsearch。
type Processor struct {
	indexer MessageIndexer
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(indexer MessageIndexer) *Processor {
	return &Processor{indexer: indexer}
}

// Process 处理单个任务。空白内容直接跳过，不视为失败。
func (p *Processor) Process(ctx context.Context, task tasks.MessageIndexTask) error {
	if strings.TrimSpace(task.Content) == "" {
		log.Warnf("[Processor] 消息内容为空，跳过索引, message=%d", task.MessageID)
		metrics.IndexTasksTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	doc := model.MessageDocument{
		MessageID:  task.MessageID,
		ChatID:     task.ChatID,
		Content:    task.Content,
		IsFromUser: task.IsFromUser,
		IsGuest:    task.IsGuest,
		UserID:     task.UserID,
		CreatedAt:  task.CreatedAt,
	}
	if err := p.indexer.IndexMessage(ctx, doc); err != nil {
		metrics.IndexTasksTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("索引消息失败: %w", err)
	}

	metrics.IndexTasksTotal.WithLabelValues("indexed").Inc()
	log.Infow("[Processor] 消息已写入索引", "message", task.MessageID, "chat", task.ChatID)
	return nil
}
