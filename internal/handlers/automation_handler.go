package handlers

import (
	"io"
	"net/http"
	"strconv"

	"kontor/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AutomationHandler exposes the rule builder API: rule CRUD, enable/disable,
// manual runs, simulation and the export/import exchange.
type AutomationHandler struct {
	service *services.AutomationService
}

func NewAutomationHandler(service *services.AutomationService) *AutomationHandler {
	return &AutomationHandler{service: service}
}

func (h *AutomationHandler) ListRules(c *gin.Context) {
	ruleRows, err := h.service.ListRules(c.Request.Context(), TenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ruleRows)
}

func (h *AutomationHandler) GetRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rule, err := h.service.GetRule(c.Request.Context(), TenantID(c), id)
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: "no such rule"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.CreateRule(c.Request.Context(), TenantID(c), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req services.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.UpdateRule(c.Request.Context(), TenantID(c), id, &req)
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: "no such rule"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := h.service.SetEnabled(c.Request.Context(), TenantID(c), id, enabled)
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: "no such rule"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

func (h *AutomationHandler) EnableRule(c *gin.Context)  { h.setEnabled(c, true) }
func (h *AutomationHandler) DisableRule(c *gin.Context) { h.setEnabled(c, false) }

// RunRequest selects which trigger class a manual run covers.
type RunRequest struct {
	TriggerType string `json:"trigger_type" binding:"required"`
}

func (h *AutomationHandler) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	summary, err := h.service.Run(c.Request.Context(), TenantID(c), req.TriggerType)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Run failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// SimulateRequest optionally pins the dry run to a specific event.
type SimulateRequest struct {
	EventRef string `json:"event_ref"`
}

func (h *AutomationHandler) Simulate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	result, err := h.service.Simulate(c.Request.Context(), TenantID(c), id, req.EventRef)
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: "no such rule"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Simulation failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AutomationHandler) ExportRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	exp, err := h.service.ExportRule(c.Request.Context(), TenantID(c), id)
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: "no such rule"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Export failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (h *AutomationHandler) ImportRule(c *gin.Context) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.ImportRule(c.Request.Context(), TenantID(c), data)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Import rejected", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return 0, false
	}
	return uint(id), true
}

// RegisterAutomationRoutes wires the rule builder endpoints.
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	rulesAPI := r.Group("/rules")
	{
		rulesAPI.GET("", handler.ListRules)
		rulesAPI.POST("", handler.CreateRule)
		rulesAPI.GET("/:id", handler.GetRule)
		rulesAPI.PUT("/:id", handler.UpdateRule)
		rulesAPI.POST("/:id/enable", handler.EnableRule)
		rulesAPI.POST("/:id/disable", handler.DisableRule)
		rulesAPI.POST("/:id/simulate", handler.Simulate)
		rulesAPI.GET("/:id/export", handler.ExportRule)
		rulesAPI.POST("/import", handler.ImportRule)
	}
	r.POST("/automation/run", handler.Run)
}
