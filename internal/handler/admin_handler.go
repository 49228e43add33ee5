// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"talanoor-go/internal/service"
	"talanoor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理客服后台的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
	chatService  service.ChatService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService, chatService service.ChatService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		chatService:  chatService,
	}
}

// UpdateStatusRequest 是修改对话状态的请求体。
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// queryInt 读取整数查询参数，缺省或非法时返回 0，由业务层补默认值。
func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

// ListConversations 按 status/type 筛选并分页返回对话摘要。
func (h *AdminHandler) ListConversations(c *gin.Context) {
	res, err := h.adminService.ListConversations(c.Request.Context(), service.ConversationQuery{
		Status: c.Query("status"),
		Type:   c.Query("type"),
		Page:   queryInt(c, "page"),
		Size:   queryInt(c, "size"),
	})
	if err != nil {
		respondError(c, "ListConversations", err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

// GetConversation 返回单个对话的完整信息。
func (h *AdminHandler) GetConversation(c *gin.Context) {
	detail, err := h.adminService.GetConversation(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		respondError(c, "GetConversation", err)
		return
	}
	respondOK(c, http.StatusOK, detail)
}

// UpdateStatus 关闭或重新打开对话。
func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "وضعیت مشخص نشده است"})
		return
	}

	conv, err := h.chatService.SetStatus(c.Request.Context(), userActor(c), c.Param("chatId"), req.Status)
	if err != nil {
		respondError(c, "UpdateStatus", err)
		return
	}
	respondOK(c, http.StatusOK, conv)
}

// PostMessage 以客服身份回复，isFromUser 固定为 false。
func (h *AdminHandler) PostMessage(c *gin.Context) {
	req, ok := bindMessage(c)
	if !ok {
		return
	}
	msg, err := h.chatService.AppendMessage(c.Request.Context(), userActor(c), c.Param("chatId"), req.Content, false, req.ClientMsgID)
	if err != nil {
		respondError(c, "AdminPostMessage", err)
		return
	}
	respondOK(c, http.StatusCreated, msg)
}

// ExportTranscript 导出对话记录并返回下载链接。
func (h *AdminHandler) ExportTranscript(c *gin.Context) {
	exp, err := h.adminService.ExportTranscript(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		respondError(c, "ExportTranscript", err)
		return
	}
	respondOK(c, http.StatusCreated, exp)
}

// SearchMessages 全文检索消息。
func (h *AdminHandler) SearchMessages(c *gin.Context) {
	res, err := h.adminService.SearchMessages(c.Request.Context(), c.Query("q"), queryInt(c, "page"), queryInt(c, "size"))
	if err != nil {
		respondError(c, "SearchMessages", err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

// ListUsers 处理获取用户列表的请求。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.adminService.ListUsers(queryInt(c, "page"), queryInt(c, "size"))
	if err != nil {
		respondError(c, "ListUsers", err)
		return
	}
	respondOK(c, http.StatusOK, users)
}

// CheckStatus 告诉前端当前用户是否具有管理员权限，只需要登录即可调用。
func (h *AdminHandler) CheckStatus(c *gin.Context) {
	user := currentUser(c)
	isAdmin := user.IsAdmin()
	if !isAdmin {
		log.Infow("Admin check denied", "userId", user.ID)
	}
	respondOK(c, http.StatusOK, gin.H{"isAdmin": isAdmin})
}
