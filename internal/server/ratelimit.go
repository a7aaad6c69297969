package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dcabot/govault/pkg/ratelimit"
)

// rateLimitMiddleware 按路由组限流，超限返回 429
func rateLimitMiddleware(limits *ratelimit.RateLimitManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limits.Allow(limitKey(c.Request.Method, c.FullPath())) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// limitKey 把请求归到限流桶：写操作和读查询分开计数
func limitKey(method, fullPath string) string {
	write := method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete
	switch {
	case strings.HasPrefix(fullPath, "/api/relayer"):
		if write {
			return "relayer:write"
		}
		return "relayer:read"
	case strings.HasPrefix(fullPath, "/api/vaults"):
		if write {
			return "vaults:write"
		}
		return "vaults:read"
	default:
		return "general"
	}
}
