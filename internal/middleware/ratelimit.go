package middleware

import (
	"fmt"
	"net/http"
	"time"

	"talanoor-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// GuestRateLimit 按客户端 IP 做固定窗口限流，limit 为每分钟允许的请求数，<= 0 表示不限流。
// 游客接口无需登录，限流防止批量创建对话。
func GuestRateLimit(rdb *redis.Client, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || rdb == nil {
			c.Next()
			return
		}

		window := time.Now().Unix() / 60
		key := fmt.Sprintf("ratelimit:guest:%s:%d", c.ClientIP(), window)
		ctx := c.Request.Context()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis 不可用时放行
			log.Warnf("游客限流计数失败: %v", err)
			c.Next()
			return
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, time.Minute).Err()
		}
		if count > int64(limit) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "تعداد درخواست‌ها بیش از حد مجاز است، لطفا کمی بعد تلاش کنید",
			})
			return
		}
		c.Next()
	}
}
