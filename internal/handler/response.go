// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strings"

	"talanoor-go/internal/model"
	"talanoor-go/internal/service"
	"talanoor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 访客令牌的请求头，WebSocket 握手时改用查询参数 guestToken。
const guestTokenHeader = "X-Guest-Token"

// statusFor 把业务层错误映射为 HTTP 状态码和面向用户的提示。
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, detail(err, "اطلاعات ورودی نامعتبر است")
	case errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest, "وضعیت نامعتبر است"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "احراز هویت ناموفق بود"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "دسترسی غیرمجاز"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "یافت نشد"
	case errors.Is(err, service.ErrConversationClosed):
		return http.StatusConflict, "این گفتگو بسته شده است"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, detail(err, "تداخل اطلاعات")
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable, detail(err, "سرویس در دسترس نیست")
	default:
		return http.StatusInternalServerError, "خطای داخلی سرور"
	}
}

// detail 取出 "%w: 说明" 中的说明部分，没有时返回默认提示。
func detail(err error, fallback string) string {
	if _, msg, ok := strings.Cut(err.Error(), ": "); ok && msg != "" {
		return msg
	}
	return fallback
}

// respondError 统一输出错误响应，5xx 会记录错误日志。
func respondError(c *gin.Context, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Errorf("%s: %v", op, err)
	} else {
		log.Warnf("%s: %v", op, err)
	}
	c.JSON(status, gin.H{"code": status, "message": msg, "data": nil})
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": "success", "data": data})
}

// currentUser 取出 AuthMiddleware 注入的用户。
func currentUser(c *gin.Context) *model.User {
	v, ok := c.Get("user")
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

// userActor 把当前登录用户包装为业务层的 Actor。
func userActor(c *gin.Context) service.Actor {
	return service.UserActor(currentUser(c))
}

// guestActor 从请求头读取访客令牌。
func guestActor(c *gin.Context) service.Actor {
	return service.GuestActor(strings.TrimSpace(c.GetHeader(guestTokenHeader)))
}
