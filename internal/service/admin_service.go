// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/internal/repository"
	"talanoor-go/pkg/log"
)

// 分页参数
const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

// 对话类型筛选
const (
	ConversationTypeAll   = "all"
	ConversationTypeUser  = "user"
	ConversationTypeGuest = "guest"
)

// StatusAll 表示不按状态筛选。
const StatusAll = "all"

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone"`
	Role      string          `json:"role"`
	Status    int             `json:"status"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// ConversationQuery 是客服后台对话列表的查询参数，字段为空表示使用默认值。
type ConversationQuery struct {
	Status string
	Type   string
	Page   int
	Size   int
}

// ConversationListResponse 与用户列表保持相同的分页结构。
type ConversationListResponse struct {
	Content       []model.ConversationSummary `json:"content"`
	TotalElements int64                       `json:"totalElements"`
	TotalPages    int                         `json:"totalPages"`
	Size          int                         `json:"size"`
	Number        int                         `json:"number"`
}

// MessageSearchResponse 是消息全文检索的分页结果。
type MessageSearchResponse struct {
	Content       []model.MessageSearchHit `json:"content"`
	TotalElements int64                    `json:"totalElements"`
	TotalPages    int                      `json:"totalPages"`
	Size          int                      `json:"size"`
	Number        int                      `json:"number"`
}

// TranscriptExport 是导出对话记录的结果。
type TranscriptExport struct {
	ChatID     string    `json:"chatId"`
	ObjectName string    `json:"objectName"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageSearcher 在消息索引中全文检索，由 es.MessageIndex 实现。
type MessageSearcher interface {
	SearchMessages(ctx context.Context, query string, from, size int) ([]model.MessageSearchHit, int64, error)
}

// TranscriptUploader 把导出的对话记录写入对象存储，由 storage.TranscriptStore 实现。
type TranscriptUploader interface {
	PutTranscript(ctx context.Context, objectName string, body []byte, contentType string) (string, error)
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	// Support console
	ListConversations(ctx context.Context, q ConversationQuery) (*ConversationListResponse, error)
	GetConversation(ctx context.Context, chatID string) (*model.ConversationDetail, error)
	SearchMessages(ctx context.Context, query string, page, size int) (*MessageSearchResponse, error)
	ExportTranscript(ctx context.Context, chatID string) (*TranscriptExport, error)

	// User Management
	ListUsers(page, size int) (*UserListResponse, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo   repository.UserRepository
	convRepo   repository.ConversationRepository
	msgRepo    repository.MessageRepository
	searcher   MessageSearcher
	transcript TranscriptUploader
}

// NewAdminService 创建一个新的 AdminService 实例。
// searcher 和 transcript 为 nil 时，对应功能返回 ErrUnavailable。
func NewAdminService(
	userRepo repository.UserRepository,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	searcher MessageSearcher,
	transcript TranscriptUploader,
) AdminService {
	return &adminService{
		userRepo:   userRepo,
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		searcher:   searcher,
		transcript: transcript,
	}
}

// normalizePage 补全默认分页参数并限制单页大小。
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func totalPages(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// ListConversations 按状态和类型筛选对话，最近活跃的在前。
func (s *adminService) ListConversations(ctx context.Context, q ConversationQuery) (*ConversationListResponse, error) {
	filter := repository.ConversationFilter{}

	switch status := strings.ToLower(strings.TrimSpace(q.Status)); status {
	case "", StatusAll:
	case model.ChatStatusOpen, model.ChatStatusClosed:
		filter.Status = status
	default:
		return nil, fmt.Errorf("%w: وضعیت نامعتبر %q", ErrValidation, q.Status)
	}

	switch typ := strings.ToLower(strings.TrimSpace(q.Type)); typ {
	case "", ConversationTypeAll:
	case ConversationTypeGuest:
		guest := true
		filter.Guest = &guest
	case ConversationTypeUser:
		guest := false
		filter.Guest = &guest
	default:
		return nil, fmt.Errorf("%w: نوع نامعتبر %q", ErrValidation, q.Type)
	}

	page, size := normalizePage(q.Page, q.Size)
	filter.Offset = (page - 1) * size
	filter.Limit = size

	rows, total, err := s.convRepo.List(ctx, filter)
	if err != nil {
		log.Errorf("[AdminService] 查询对话列表失败: %v", err)
		return nil, err
	}
	return &ConversationListResponse{
		Content:       rows,
		TotalElements: total,
		TotalPages:    totalPages(total, size),
		Size:          size,
		Number:        page,
	}, nil
}

// GetConversation 返回对话详情，包括全部消息和所属用户。
func (s *adminService) GetConversation(ctx context.Context, chatID string) (*model.ConversationDetail, error) {
	conv, err := s.convRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, notFound(err)
	}
	messages, err := s.msgRepo.ListByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	detail := &model.ConversationDetail{
		Conversation: *conv,
		Messages:     messages,
	}
	if conv.User != nil {
		detail.User = &model.UserSummary{ID: conv.User.ID, Name: conv.User.Name, Email: conv.User.Email, Phone: conv.User.Phone}
	}
	return detail, nil
}

// SearchMessages 在已索引的消息中全文检索。
func (s *adminService) SearchMessages(ctx context.Context, query string, page, size int) (*MessageSearchResponse, error) {
	if s.searcher == nil {
		return nil, fmt.Errorf("%w: جستجو فعال نیست", ErrUnavailable)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: عبارت جستجو خالی است", ErrValidation)
	}
	page, size = normalizePage(page, size)

	hits, total, err := s.searcher.SearchMessages(ctx, query, (page-1)*size, size)
	if err != nil {
		log.Errorf("[AdminService] 消息检索失败, query: %s, error: %v", query, err)
		return nil, err
	}
	return &MessageSearchResponse{
		Content:       hits,
		TotalElements: total,
		TotalPages:    totalPages(total, size),
		Size:          size,
		Number:        page,
	}, nil
}

// ExportTranscript 把对话渲染为纯文本记录，上传到对象存储并返回下载链接。
func (s *adminService) ExportTranscript(ctx context.Context, chatID string) (*TranscriptExport, error) {
	if s.transcript == nil {
		return nil, fmt.Errorf("%w: ذخیره‌سازی فایل فعال نیست", ErrUnavailable)
	}
	detail, err := s.GetConversation(ctx, chatID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	objectName := fmt.Sprintf("transcripts/%s/%s.txt", chatID, now.Format("20060102T150405"))
	url, err := s.transcript.PutTranscript(ctx, objectName, RenderTranscript(detail), "text/plain; charset=utf-8")
	if err != nil {
		return nil, fmt.Errorf("上传对话记录失败: %w", err)
	}
	log.Infow("[AdminService] 对话记录已导出", "chatId", chatID, "object", objectName)
	return &TranscriptExport{ChatID: chatID, ObjectName: objectName, URL: url, CreatedAt: now}, nil
}

// RenderTranscript 把对话详情渲染为按时间排序的纯文本。
func RenderTranscript(detail *model.ConversationDetail) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "گفتگو: %s\n", detail.ID)
	switch {
	case detail.User != nil:
		fmt.Fprintf(&b, "کاربر: %s (%s)\n", detail.User.Name, detail.User.Phone)
	case detail.GuestName != nil:
		phone := ""
		if detail.Phone != nil {
			phone = *detail.Phone
		}
		fmt.Fprintf(&b, "مهمان: %s (%s)\n", *detail.GuestName, phone)
	}
	fmt.Fprintf(&b, "وضعیت: %s\n", detail.Status)
	fmt.Fprintf(&b, "ایجاد: %s\n\n", detail.CreatedAt.Format(time.RFC3339))

	for _, m := range detail.Messages {
		side := "پشتیبانی"
		if m.IsFromUser {
			side = "کاربر"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), side, m.Content)
	}
	return []byte(b.String())
}

// ListUsers 分页返回用户列表。
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	page, size = normalizePage(page, size)
	offset := (page - 1) * size
	users, total, err := s.userRepo.FindWithPagination(offset, size)
	if err != nil {
		return nil, err
	}

	userResponses := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		// 转换角色为状态码
		status := 1 // 默认为 USER
		if u.Role == model.RoleAdmin {
			status = 0
		}

		userResponses = append(userResponses, UserDetailResponse{
			UserID:    u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Phone:     u.Phone,
			Role:      u.Role,
			Status:    status,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}

	return &UserListResponse{
		Content:       userResponses,
		TotalElements: total,
		TotalPages:    totalPages(total, size),
		Size:          size,
		Number:        page,
	}, nil
}
