// Package middleware 提供 REST 接口使用的 Gin 中间件。
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// Auth 校验 Authorization 头中的 Bearer JWT，
// 成功后把 user_id 写入 Gin 上下文供后续处理器使用。
// 只用于 REST 路由；WebSocket 的鉴权走带内的 authenticate 事件。
func Auth(secretKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secretKey, nil
		})
		if err != nil {
			var ve *jwt.ValidationError
			switch {
			case errors.Is(err, jwt.ErrSignatureInvalid):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token signature is invalid"})
			case errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			case errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorMalformed != 0:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token is malformed"})
			default:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			c.Abort()
			return
		}

		if !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token is not valid"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}

		userIDFloat, ok := claims["user_id"].(float64)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}

		c.Set("user_id", uint(userIDFloat))
		c.Next()
	}
}
