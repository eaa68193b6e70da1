package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth API Key认证中间件
//
// 配置中保存的是 bcrypt 哈希，明文密钥只出现在请求头里
type APIKeyAuth struct {
	keyHashes []string
}

// NewAPIKeyAuth 创建API Key认证中间件
func NewAPIKeyAuth(keyHashes []string) *APIKeyAuth {
	return &APIKeyAuth{
		keyHashes: keyHashes,
	}
}

// Enabled 是否配置了任何密钥
func (m *APIKeyAuth) Enabled() bool {
	return len(m.keyHashes) > 0
}

// RequireAPIKey 要求API Key认证
//
// 未配置任何密钥哈希时放行所有请求
func (m *APIKeyAuth) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			c.Abort()
			return
		}

		if !m.validate(apiKey) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (m *APIKeyAuth) validate(apiKey string) bool {
	for _, hash := range m.keyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil {
			return true
		}
	}
	return false
}
