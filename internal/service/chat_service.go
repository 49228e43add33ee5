// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/internal/realtime"
	"talanoor-go/internal/repository"
	"talanoor-go/pkg/hash"
	"talanoor-go/pkg/log"
	"talanoor-go/pkg/metrics"
	"talanoor-go/pkg/tasks"
	"talanoor-go/pkg/token"

	"github.com/google/uuid"
)

// guestTokenBytes 是访客令牌的随机字节数。
const guestTokenBytes = 32

// 访客未填写姓名时的默认称呼
const defaultGuestName = "مهمان"

// IndexPublisher 把新消息投递到检索索引流水线，由 kafka.Publisher 实现。
type IndexPublisher interface {
	PublishMessageTask(ctx context.Context, task tasks.MessageIndexTask) error
}

// GuestSession 是游客对话及其访客令牌。令牌只在创建时明文下发一次。
type GuestSession struct {
	Conversation *model.Conversation `json:"chat"`
	GuestToken   string              `json:"guestToken"`
	Resumed      bool                `json:"resumed"`
}

// GuestResolveRequest 是游客进入聊天窗口时提交的全部信息。
// ChatID/GuestToken 来自客户端本地保存的上一次会话，Name/Phone 来自访客表单。
type GuestResolveRequest struct {
	ChatID     string `json:"chatId"`
	GuestToken string `json:"guestToken"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

// ChatService 接口定义了客服对话相关的业务操作。
type ChatService interface {
	ResolveUserConversation(ctx context.Context, actor Actor) (*model.Conversation, error)
	CreateUserConversation(ctx context.Context, actor Actor, ownerID uint) (*model.Conversation, error)
	ListUserConversations(ctx context.Context, actor Actor, ownerID uint) ([]model.Conversation, error)

	CreateGuestConversation(ctx context.Context, name, phone string) (*GuestSession, error)
	ResumeGuestConversation(ctx context.Context, chatID, guestToken string) (*model.Conversation, error)
	ResolveGuestConversation(ctx context.Context, req GuestResolveRequest) (*GuestSession, error)

	AppendMessage(ctx context.Context, actor Actor, chatID, content string, senderIsUser bool, clientMsgID string) (*model.Message, error)
	ListMessages(ctx context.Context, actor Actor, chatID string) ([]model.Message, error)
	SetStatus(ctx context.Context, actor Actor, chatID, status string) (*model.Conversation, error)

	// Authorize 校验 actor 是否可以访问该对话，供实时订阅使用。
	Authorize(ctx context.Context, actor Actor, chatID string) (*model.Conversation, error)
}

type chatService struct {
	convRepo  repository.ConversationRepository
	msgRepo   repository.MessageRepository
	userRepo  repository.UserRepository
	broker    realtime.Broker
	publisher IndexPublisher
}

// NewChatService 创建一个新的 ChatService 实例。publisher 为 nil 时不投递索引任务。
func NewChatService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	broker realtime.Broker,
	publisher IndexPublisher,
) ChatService {
	return &chatService{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		userRepo:  userRepo,
		broker:    broker,
		publisher: publisher,
	}
}

// ResolveUserConversation 复用用户最近更新的一个未关闭对话，没有则新建一个。
func (s *chatService) ResolveUserConversation(ctx context.Context, actor Actor) (*model.Conversation, error) {
	if actor.User == nil {
		return nil, ErrUnauthorized
	}

	conv, err := s.convRepo.FindLatestOpenByUser(ctx, actor.User.ID)
	if err == nil {
		if conv.Messages, err = s.msgRepo.ListByChat(ctx, conv.ID); err != nil {
			return nil, err
		}
		return conv, nil
	}
	if !errors.Is(notFound(err), ErrNotFound) {
		return nil, err
	}

	return s.createForUser(ctx, actor.User.ID)
}

// CreateUserConversation 显式为 ownerID 创建一个新对话，非管理员只能为自己创建。
func (s *chatService) CreateUserConversation(ctx context.Context, actor Actor, ownerID uint) (*model.Conversation, error) {
	if actor.User == nil {
		return nil, ErrUnauthorized
	}
	if ownerID == 0 {
		ownerID = actor.User.ID
	}
	if ownerID != actor.User.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if ownerID != actor.User.ID {
		if _, err := s.userRepo.FindByID(ownerID); err != nil {
			return nil, notFound(err)
		}
	}
	return s.createForUser(ctx, ownerID)
}

func (s *chatService) createForUser(ctx context.Context, userID uint) (*model.Conversation, error) {
	uid := userID
	conv := &model.Conversation{
		ID:       uuid.NewString(),
		UserID:   &uid,
		Status:   model.ChatStatusOpen,
		Messages: []model.Message{},
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		log.Errorf("[ChatService] 创建用户对话失败, userID: %d, error: %v", userID, err)
		return nil, fmt.Errorf("创建对话失败: %w", err)
	}
	metrics.RecordConversation(false)
	log.Infow("[ChatService] 新建用户对话", "chatId", conv.ID, "userId", userID)
	return conv, nil
}

// ListUserConversations 返回 ownerID 的全部对话，最近更新的在前。
func (s *chatService) ListUserConversations(ctx context.Context, actor Actor, ownerID uint) ([]model.Conversation, error) {
	if actor.User == nil {
		return nil, ErrUnauthorized
	}
	if ownerID == 0 {
		ownerID = actor.User.ID
	}
	if ownerID != actor.User.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.convRepo.ListByUser(ctx, ownerID)
}

// CreateGuestConversation 为游客创建新对话。手机号必填，姓名留空时使用默认称呼。
func (s *chatService) CreateGuestConversation(ctx context.Context, name, phone string) (*GuestSession, error) {
	name = strings.TrimSpace(name)
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: شماره تلفن مشخص نشده است", ErrValidation)
	}
	if err := validatePhone(phone); err != nil {
		return nil, err
	}
	if name == "" {
		name = defaultGuestName
	}

	guestToken, err := token.GenerateRandomString(guestTokenBytes)
	if err != nil {
		log.Errorf("[ChatService] 生成访客令牌失败, error: %v", err)
		return nil, fmt.Errorf("生成访客令牌失败: %w", err)
	}
	conv := &model.Conversation{
		ID:             uuid.NewString(),
		GuestName:      &name,
		Phone:          &phone,
		GuestTokenHash: hash.DigestToken(guestToken),
		Status:         model.ChatStatusOpen,
		Messages:       []model.Message{},
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		log.Errorf("[ChatService] 创建游客对话失败, error: %v", err)
		return nil, fmt.Errorf("创建对话失败: %w", err)
	}
	metrics.RecordConversation(true)
	log.Infow("[ChatService] 新建游客对话", "chatId", conv.ID)
	return &GuestSession{Conversation: conv, GuestToken: guestToken}, nil
}

// ResumeGuestConversation 用本地保存的对话 ID 和访客令牌恢复游客对话，返回带消息的对话。
func (s *chatService) ResumeGuestConversation(ctx context.Context, chatID, guestToken string) (*model.Conversation, error) {
	conv, err := s.Authorize(ctx, GuestActor(guestToken), chatID)
	if err != nil {
		return nil, err
	}
	if conv.Messages, err = s.msgRepo.ListByChat(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// ResolveGuestConversation 先尝试恢复，恢复不了再用表单信息新建。
func (s *chatService) ResolveGuestConversation(ctx context.Context, req GuestResolveRequest) (*GuestSession, error) {
	if req.ChatID != "" && req.GuestToken != "" {
		conv, err := s.ResumeGuestConversation(ctx, req.ChatID, req.GuestToken)
		switch {
		case err == nil:
			return &GuestSession{Conversation: conv, GuestToken: req.GuestToken, Resumed: true}, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
			log.Infow("[ChatService] 本地保存的游客对话无法恢复，改为新建", "chatId", req.ChatID, "reason", err.Error())
		default:
			return nil, err
		}
	}
	if strings.TrimSpace(req.Name) == "" && strings.TrimSpace(req.Phone) == "" {
		return nil, fmt.Errorf("%w: لطفا نام و شماره تماس خود را وارد کنید", ErrValidation)
	}
	return s.CreateGuestConversation(ctx, req.Name, req.Phone)
}

// Authorize 加载对话并校验访问权限：管理员可访问全部对话，用户只能访问自己的，
// 游客只能凭令牌访问对应的游客对话。
func (s *chatService) Authorize(ctx context.Context, actor Actor, chatID string) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, notFound(err)
	}
	if !canAccess(actor, conv) {
		return nil, ErrForbidden
	}
	return conv, nil
}

func canAccess(actor Actor, conv *model.Conversation) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.User != nil:
		return conv.UserID != nil && *conv.UserID == actor.User.ID
	default:
		return conv.IsGuest() && actor.GuestToken != "" && hash.TokenMatches(actor.GuestToken, conv.GuestTokenHash)
	}
}

// AppendMessage 追加一条消息。校验顺序：对话存在、访问权限、内容、发送方、对话状态。
func (s *chatService) AppendMessage(ctx context.Context, actor Actor, chatID, content string, senderIsUser bool, clientMsgID string) (*model.Message, error) {
	conv, err := s.Authorize(ctx, actor, chatID)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: محتوای پیام نمی‌تواند خالی باشد", ErrValidation)
	}
	// 只有管理员可以以客服身份发言
	if !senderIsUser && !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	msg := &model.Message{
		ChatID:     conv.ID,
		Content:    content,
		IsFromUser: senderIsUser,
	}
	if key := strings.TrimSpace(clientMsgID); key != "" {
		msg.ClientMsgID = &key
	}

	stored, created, err := s.msgRepo.Append(ctx, msg, func(locked *model.Conversation) error {
		if locked.IsClosed() {
			return ErrConversationClosed
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConversationClosed) {
			return nil, err
		}
		return nil, notFound(err)
	}

	if created {
		metrics.RecordMessage(stored.IsFromUser)
		s.afterAppend(ctx, conv, *stored)
	}
	return stored, nil
}

// afterAppend 在事务提交之后推送实时事件并投递索引任务，失败只记录日志。
func (s *chatService) afterAppend(ctx context.Context, conv *model.Conversation, msg model.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if s.broker != nil {
		if err := s.broker.Publish(ctx, realtime.NewMessageEvent(msg)); err != nil {
			log.Warnw("[ChatService] 推送实时消息事件失败", "chatId", msg.ChatID, "error", err)
		}
	}
	if s.publisher != nil {
		task := tasks.MessageIndexTask{
			MessageID:  msg.ID,
			ChatID:     msg.ChatID,
			Content:    msg.Content,
			IsFromUser: msg.IsFromUser,
			IsGuest:    conv.IsGuest(),
			UserID:     conv.UserID,
			CreatedAt:  msg.CreatedAt,
		}
		if err := s.publisher.PublishMessageTask(ctx, task); err != nil {
			log.Warnw("[ChatService] 投递消息索引任务失败", "messageId", msg.ID, "error", err)
		}
	}
}

// ListMessages 返回对话的全部消息，最早的在前。
func (s *chatService) ListMessages(ctx context.Context, actor Actor, chatID string) ([]model.Message, error) {
	conv, err := s.Authorize(ctx, actor, chatID)
	if err != nil {
		return nil, err
	}
	return s.msgRepo.ListByChat(ctx, conv.ID)
}

// SetStatus 修改对话状态，仅管理员可用，open 与 closed 可以互相切换。
func (s *chatService) SetStatus(ctx context.Context, actor Actor, chatID, status string) (*model.Conversation, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if status != model.ChatStatusOpen && status != model.ChatStatusClosed {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	conv, err := s.convRepo.UpdateStatus(ctx, chatID, status)
	if err != nil {
		return nil, notFound(err)
	}
	metrics.StatusChangesTotal.WithLabelValues(status).Inc()
	log.Infow("[ChatService] 对话状态已更新", "chatId", chatID, "status", status, "by", actor.User.ID)

	if s.broker != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.broker.Publish(pubCtx, realtime.NewStatusEvent(chatID, status)); err != nil {
			log.Warnw("[ChatService] 推送状态事件失败", "chatId", chatID, "error", err)
		}
	}
	return conv, nil
}
