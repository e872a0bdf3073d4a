package handlers

import (
	"net/http"

	"kontor/internal/services"

	"github.com/gin-gonic/gin"
)

// PendingHandler exposes the confirm flow for staged actions.
type PendingHandler struct {
	service *services.PendingService
}

func NewPendingHandler(service *services.PendingService) *PendingHandler {
	return &PendingHandler{service: service}
}

func (h *PendingHandler) List(c *gin.Context) {
	pending, err := h.service.List(c.Request.Context(), TenantID(c), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list pending actions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, pending)
}

// ConfirmRequest carries the one-time token and the mandatory explicit
// acknowledgement.
type ConfirmRequest struct {
	ConfirmToken string `json:"confirm_token" binding:"required"`
	Ack          bool   `json:"ack"`
}

func (h *PendingHandler) Confirm(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	pending, outcome, err := h.service.Confirm(c.Request.Context(), TenantID(c), id, req.ConfirmToken, req.Ack)
	if err != nil {
		c.JSON(confirmStatus(err), ErrorResponse{Error: "Confirm failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending, "outcome": outcome})
}

func (h *PendingHandler) Reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.Reject(c.Request.Context(), TenantID(c), id); err != nil {
		c.JSON(confirmStatus(err), ErrorResponse{Error: "Reject failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "rejected"})
}

// confirmStatus maps confirm-flow errors onto HTTP statuses: replayed
// tokens and terminal states conflict, expiry is gone, bad input is 400.
func confirmStatus(err error) int {
	switch err {
	case services.ErrPendingNotFound:
		return http.StatusNotFound
	case services.ErrExpired:
		return http.StatusGone
	case services.ErrReplay:
		return http.StatusConflict
	case services.ErrAckRequired:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RegisterPendingRoutes wires the pending action endpoints.
func RegisterPendingRoutes(r *gin.RouterGroup, handler *PendingHandler) {
	pending := r.Group("/pending")
	{
		pending.GET("", handler.List)
		pending.POST("/:id/confirm", handler.Confirm)
		pending.POST("/:id/reject", handler.Reject)
	}
}
