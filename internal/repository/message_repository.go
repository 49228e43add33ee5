package repository

import (
	"context"
	"errors"
	"time"

	"talanoor-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AppendGuard 在追加消息的事务内、锁定对话行之后执行，返回错误则放弃写入。
type AppendGuard func(conv *model.Conversation) error

// MessageRepository 定义了消息的持久化操作。消息只追加、不修改、不删除。
type MessageRepository interface {
	// Append 写入消息并把对话的 updated_at 更新为消息的创建时间，两者在同一事务内完成。
	// 若 ClientMsgID 在该对话中已存在，直接返回已保存的消息，created 为 false。
	Append(ctx context.Context, msg *model.Message, guard AppendGuard) (stored *model.Message, created bool, err error)
	ListByChat(ctx context.Context, chatID string) ([]model.Message, error)
}

type gormMessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Append 见接口说明。
func (r *gormMessageRepository) Append(ctx context.Context, msg *model.Message, guard AppendGuard) (*model.Message, bool, error) {
	var stored *model.Message
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住对话行，关闭对话与追加消息之间不会交错
		var conv model.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, "id = ?", msg.ChatID).Error; err != nil {
			return err
		}

		// 幂等：同一个 clientMsgId 的重试直接返回第一次写入的结果
		if msg.ClientMsgID != nil {
			var existing model.Message
			err := tx.Where("chat_id = ? AND client_msg_id = ?", msg.ChatID, *msg.ClientMsgID).First(&existing).Error
			if err == nil {
				stored = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		if guard != nil {
			if err := guard(&conv); err != nil {
				return err
			}
		}

		msg.CreatedAt = time.Now()
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ChatID).
			UpdateColumn("updated_at", msg.CreatedAt).Error; err != nil {
			return err
		}
		stored = msg
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// ListByChat 返回对话中的全部消息，按创建时间正序。
func (r *gormMessageRepository) ListByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}
