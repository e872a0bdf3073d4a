package handlers

import "github.com/gin-gonic/gin"

// ErrorResponse is the shared error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// SuccessResponse is the shared success envelope.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// TenantID reads the tenant set by the tenant middleware.
func TenantID(c *gin.Context) string {
	return c.GetString("tenant_id")
}
