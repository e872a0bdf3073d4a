package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"kontor/internal/config"

	"github.com/gin-gonic/gin"
)

func TestTenantMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TenantMiddleware())
	router.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("tenant_id"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing header: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Tenant-ID", "t1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "t1" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.GetDefaultConfig()
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.RequestsPerMinute = 60
	cfg.Security.RateLimiting.Burst = 2

	router := gin.New()
	router.Use(RateLimitMiddleware(cfg))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(tenant string) int {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if hit("t1") != http.StatusOK || hit("t1") != http.StatusOK {
		t.Fatal("burst requests should pass")
	}
	if hit("t1") != http.StatusTooManyRequests {
		t.Error("request over burst should be limited")
	}
	// Budgets are per tenant.
	if hit("t2") != http.StatusOK {
		t.Error("another tenant has its own budget")
	}
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.GetDefaultConfig()
	cfg.Security.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(RateLimitMiddleware(cfg))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}
