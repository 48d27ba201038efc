package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collabcode/internal/repository"
)

// RateLimit 按客户端 IP 限制每个时间窗口内的请求次数。
// 计数放在 Redis 里，多实例部署时限流口径一致。
// Redis 不可用时放行请求，限流失效好过整站拒绝服务。
func RateLimit(stateRepo repository.LiveStateRepository, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + c.ClientIP()
		limited, err := stateRepo.CheckRateLimit(c.Request.Context(), key, maxRequests, window)
		if err != nil {
			logrus.WithError(err).Warn("Rate limit check failed, allowing request")
			c.Next()
			return
		}
		if limited {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
