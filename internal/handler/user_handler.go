// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"talanoor-go/internal/middleware"
	"talanoor-go/internal/service"
	"talanoor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理所有与普通用户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "اطلاعات ورودی نامعتبر است"})
		return
	}

	user, err := h.userService.Register(req)
	if err != nil {
		respondError(c, "Register", err)
		return
	}

	log.Infow("User registered", "userId", user.ID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "ثبت نام با موفقیت انجام شد",
		"data": gin.H{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
			"phone": user.Phone,
		},
	})
}

// LoginRequest 定义了用户登录 API 的请求体结构。identifier 可以是手机号或邮箱。
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "شماره موبایل یا ایمیل و رمز عبور الزامی است"})
		return
	}

	accessToken, refreshToken, err := h.userService.Login(req.Identifier, req.Password)
	if err != nil {
		respondError(c, "Login", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Login successful",
		"data": gin.H{
			"token":        accessToken,
			"refreshToken": refreshToken,
		},
	})
}

// GetProfile 获取当前登录用户的个人信息。
// 用户信息已经由 AuthMiddleware 注入到上下文中。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
		return
	}
	respondOK(c, http.StatusOK, user)
}

// Logout 处理用户登出逻辑。
func (h *UserHandler) Logout(c *gin.Context) {
	if err := h.userService.Logout(c.Request.Context(), middleware.BearerToken(c)); err != nil {
		respondError(c, "Logout", err)
		return
	}

	if user := currentUser(c); user != nil {
		log.Infow("User logged out", "userId", user.ID)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "خروج با موفقیت انجام شد"})
}
