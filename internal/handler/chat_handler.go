// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"
	"strings"

	"talanoor-go/internal/service"
	"talanoor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理客服对话的 REST 接口，包括登录用户和游客两套入口。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// CreateChatRequest 是 POST /chats 的请求体，userId 为空表示为自己创建。
type CreateChatRequest struct {
	UserID uint `json:"userId"`
}

// PostMessageRequest 是发送消息的请求体。isFromUser 缺省为 true。
type PostMessageRequest struct {
	Content     string `json:"content"`
	IsFromUser  *bool  `json:"isFromUser"`
	ClientMsgID string `json:"clientMsgId"`
}

// GuestChatRequest 是游客填写的表单。
type GuestChatRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// bindMessage 解析消息请求体，Idempotency-Key 请求头优先作为 clientMsgId。
func bindMessage(c *gin.Context) (PostMessageRequest, bool) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("PostMessage: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "محتوای پیام مشخص نشده است"})
		return req, false
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
		req.ClientMsgID = key
	}
	return req, true
}

func (r PostMessageRequest) fromUser() bool {
	return r.IsFromUser == nil || *r.IsFromUser
}

// ListChats 返回某个用户的全部对话。非管理员只能查看自己的。
func (h *ChatHandler) ListChats(c *gin.Context) {
	var ownerID uint
	if raw := c.Query("userId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "شناسه کاربر نامعتبر است"})
			return
		}
		ownerID = uint(id)
	}

	convs, err := h.chatService.ListUserConversations(c.Request.Context(), userActor(c), ownerID)
	if err != nil {
		respondError(c, "ListChats", err)
		return
	}
	respondOK(c, http.StatusOK, convs)
}

// CreateChat 显式创建一个新对话。
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "اطلاعات ورودی نامعتبر است"})
			return
		}
	}

	conv, err := h.chatService.CreateUserConversation(c.Request.Context(), userActor(c), req.UserID)
	if err != nil {
		respondError(c, "CreateChat", err)
		return
	}
	respondOK(c, http.StatusCreated, conv)
}

// ResolveChat 打开聊天窗口时调用：复用最近的未关闭对话，没有则新建。
func (h *ChatHandler) ResolveChat(c *gin.Context) {
	conv, err := h.chatService.ResolveUserConversation(c.Request.Context(), userActor(c))
	if err != nil {
		respondError(c, "ResolveChat", err)
		return
	}
	respondOK(c, http.StatusOK, conv)
}

// ListMessages 返回对话的全部消息。
func (h *ChatHandler) ListMessages(c *gin.Context) {
	msgs, err := h.chatService.ListMessages(c.Request.Context(), userActor(c), c.Param("chatId"))
	if err != nil {
		respondError(c, "ListMessages", err)
		return
	}
	respondOK(c, http.StatusOK, msgs)
}

// PostMessage 以登录用户身份发送消息。
func (h *ChatHandler) PostMessage(c *gin.Context) {
	req, ok := bindMessage(c)
	if !ok {
		return
	}
	msg, err := h.chatService.AppendMessage(c.Request.Context(), userActor(c), c.Param("chatId"), req.Content, req.fromUser(), req.ClientMsgID)
	if err != nil {
		respondError(c, "PostMessage", err)
		return
	}
	respondOK(c, http.StatusCreated, msg)
}

// CreateGuestChat 为游客创建新对话，返回对话和访客令牌。
func (h *ChatHandler) CreateGuestChat(c *gin.Context) {
	var req GuestChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "اطلاعات ورودی نامعتبر است"})
		return
	}

	sess, err := h.chatService.CreateGuestConversation(c.Request.Context(), req.Name, req.Phone)
	if err != nil {
		respondError(c, "CreateGuestChat", err)
		return
	}
	respondOK(c, http.StatusCreated, sess)
}

// ResolveGuestChat 恢复本地保存的游客对话，恢复失败时用表单信息新建。
func (h *ChatHandler) ResolveGuestChat(c *gin.Context) {
	var req service.GuestResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "اطلاعات ورودی نامعتبر است"})
		return
	}
	if req.GuestToken == "" {
		req.GuestToken = strings.TrimSpace(c.GetHeader(guestTokenHeader))
	}

	sess, err := h.chatService.ResolveGuestConversation(c.Request.Context(), req)
	if err != nil {
		respondError(c, "ResolveGuestChat", err)
		return
	}
	status := http.StatusCreated
	if sess.Resumed {
		status = http.StatusOK
	}
	respondOK(c, status, sess)
}

// GetGuestChat 返回游客对话及其消息，需要 X-Guest-Token。
func (h *ChatHandler) GetGuestChat(c *gin.Context) {
	conv, err := h.chatService.ResumeGuestConversation(c.Request.Context(), c.Param("chatId"), guestActor(c).GuestToken)
	if err != nil {
		respondError(c, "GetGuestChat", err)
		return
	}
	respondOK(c, http.StatusOK, conv)
}

// ListGuestMessages 返回游客对话的全部消息。
func (h *ChatHandler) ListGuestMessages(c *gin.Context) {
	msgs, err := h.chatService.ListMessages(c.Request.Context(), guestActor(c), c.Param("chatId"))
	if err != nil {
		respondError(c, "ListGuestMessages", err)
		return
	}
	respondOK(c, http.StatusOK, msgs)
}

// PostGuestMessage 以游客身份发送消息。
func (h *ChatHandler) PostGuestMessage(c *gin.Context) {
	req, ok := bindMessage(c)
	if !ok {
		return
	}
	msg, err := h.chatService.AppendMessage(c.Request.Context(), guestActor(c), c.Param("chatId"), req.Content, req.fromUser(), req.ClientMsgID)
	if err != nil {
		respondError(c, "PostGuestMessage", err)
		return
	}
	respondOK(c, http.StatusCreated, msg)
}
