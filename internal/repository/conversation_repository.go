// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"time"

	"talanoor-go/internal/model"

	"gorm.io/gorm"
)

// ConversationFilter 是客服后台列表的筛选条件。
// Status 为空表示不过滤状态；Guest 为 nil 表示不过滤对话类型。
type ConversationFilter struct {
	Status string
	Guest  *bool
	Offset int
	Limit  int
}

// ConversationRepository 定义了对话记录的操作接口。
type ConversationRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	FindLatestOpenByUser(ctx context.Context, userID uint) (*model.Conversation, error)
	ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error)
	List(ctx context.Context, filter ConversationFilter) ([]model.ConversationSummary, int64, error)
	UpdateStatus(ctx context.Context, id, status string) (*model.Conversation, error)
}

type gormConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

// Create 插入一条新的对话记录。
func (r *gormConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

// FindByID 根据 ID 查找对话，并带上所属用户（游客对话为 nil）。
func (r *gormConversationRepository) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).Preload("User").First(&conv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindLatestOpenByUser 返回用户最近活跃的一条未关闭对话。
func (r *gormConversationRepository) FindLatestOpenByUser(ctx context.Context, userID uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.ChatStatusOpen).
		Order("updated_at DESC").
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListByUser 返回用户的全部对话，最近活跃的在前，每个对话的消息按时间正序排列。
func (r *gormConversationRepository) ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

// List 按筛选条件分页返回对话摘要。
// 列表页只需要最后一条消息和消息总数，完整消息在查看详情时再按需加载。
func (r *gormConversationRepository) List(ctx context.Context, filter ConversationFilter) ([]model.ConversationSummary, int64, error) {
	// 计数和分页查询各自从新的链开始，避免共享同一个 Statement
	filtered := func(db *gorm.DB) *gorm.DB {
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		if filter.Guest != nil {
			if *filter.Guest {
				db = db.Where("user_id IS NULL")
			} else {
				db = db.Where("user_id IS NOT NULL")
			}
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Conversation{}).Scopes(filtered).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var convs []model.Conversation
	q := r.db.WithContext(ctx).Scopes(filtered).Preload("User").Order("updated_at DESC")
	if filter.Limit > 0 {
		q = q.Offset(filter.Offset).Limit(filter.Limit)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, 0, err
	}
	if len(convs) == 0 {
		return []model.ConversationSummary{}, total, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	// 每个对话的消息数
	type countRow struct {
		ChatID string
		Total  int64
	}
	var counts []countRow
	if err := r.db.WithContext(ctx).Model(&model.Message{}).
		Select("chat_id, COUNT(*) AS total").
		Where("chat_id IN ?", ids).
		Group("chat_id").
		Scan(&counts).Error; err != nil {
		return nil, 0, err
	}
	countByChat := make(map[string]int64, len(counts))
	for _, c := range counts {
		countByChat[c.ChatID] = c.Total
	}

	// 每个对话的最后一条消息：id 自增，组内最大 id 即最后一条
	var last []model.Message
	if err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&model.Message{}).Select("MAX(id)").Where("chat_id IN ?", ids).Group("chat_id")).
		Find(&last).Error; err != nil {
		return nil, 0, err
	}
	lastByChat := make(map[string]model.Message, len(last))
	for _, m := range last {
		lastByChat[m.ChatID] = m
	}

	summaries := make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		s := model.ConversationSummary{
			Conversation: c,
			User:         summarizeUser(c.User),
			MessageCount: countByChat[c.ID],
		}
		if m, ok := lastByChat[c.ID]; ok {
			m := m
			s.LastMessage = &m
		}
		summaries = append(summaries, s)
	}
	return summaries, total, nil
}

// UpdateStatus 覆盖对话状态，不影响已有消息。
func (r *gormConversationRepository) UpdateStatus(ctx context.Context, id, status string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conv, "id = ?", id).Error; err != nil {
			return err
		}
		now := time.Now()
		if err := tx.Model(&model.Conversation{}).Where("id = ?", id).
			Updates(map[string]interface{}{"status": status, "updated_at": now}).Error; err != nil {
			return err
		}
		conv.Status = status
		conv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func summarizeUser(u *model.User) *model.UserSummary {
	if u == nil {
		return nil
	}
	return &model.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
}
