// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"talanoor-go/internal/model"
	"talanoor-go/internal/service"
	"talanoor-go/pkg/log"
	"talanoor-go/pkg/token"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// BearerToken 从 Authorization 请求头中提取 token，格式不对时返回空串。
func BearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头"})
			return
		}
		tokenString := BearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式"})
			return
		}

		user, claims, ok := Authenticate(c, jwtManager, userService, tokenString)
		if !ok {
			return
		}

		// 将完整的 User 对象存储在 context 中，供后续处理函数使用
		c.Set("user", user)
		c.Set("claims", claims)
		c.Next()
	}
}

// Authenticate 校验 access token、黑名单和用户是否存在，失败时已经写好响应。
// WebSocket 握手从查询参数取 token，也复用这里的逻辑。
func Authenticate(c *gin.Context, jwtManager *token.JWTManager, userService service.UserService, tokenString string) (*model.User, *token.CustomClaims, bool) {
	claims, err := jwtManager.VerifyAccessToken(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
		return nil, nil, false
	}

	revoked, err := userService.IsTokenRevoked(c.Request.Context(), tokenString)
	if err != nil {
		// Redis 不可用时不拒绝请求，只记录
		log.Warnf("检查 token 黑名单失败: %v", err)
	}
	if revoked {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "token 已失效，请重新登录"})
		return nil, nil, false
	}

	// 使用 claims 中的用户 ID 从数据库获取完整的用户信息
	user, err := userService.GetProfile(claims.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "用户不存在"})
		return nil, nil, false
	}
	return user, claims, true
}
