package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TenantMiddleware resolves the tenant from the X-Tenant-ID header set by
// the session layer. Requests without a tenant are rejected; nothing in the
// API is tenant-less.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader("X-Tenant-ID")
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Missing tenant",
				"message": "X-Tenant-ID header is required",
			})
			return
		}
		c.Set("tenant_id", tenant)
		c.Next()
	}
}
