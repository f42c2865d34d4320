// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"insight-vault-go/pkg/log"
	"insight-vault-go/pkg/token"
)

// ActorIDKey 是操作者标识在 Gin 上下文中的键名。
const ActorIDKey = "actorID"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 认证由外部系统签发 token，这里只做校验，并把操作者标识存入上下文。
// 操作者标识会随管道事件一路透传，不存在硬编码的默认用户。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		c.Set(ActorIDKey, claims.ActorID)
		c.Next()
	}
}

// ActorID 从 Gin 上下文中取出经过认证的操作者标识。
func ActorID(c *gin.Context) string {
	return c.GetString(ActorIDKey)
}
