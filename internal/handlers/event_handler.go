package handlers

import (
	"net/http"

	"kontor/internal/services"

	"github.com/gin-gonic/gin"
)

// EventHandler is the feed ingress used by the other kontor modules (CRM,
// mail intake, tasks) to append domain events.
type EventHandler struct {
	service *services.EventService
}

func NewEventHandler(service *services.EventService) *EventHandler {
	return &EventHandler{service: service}
}

// AppendEventRequest is one event feed entry.
type AppendEventRequest struct {
	Source    string                 `json:"source" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"`
	Ref       string                 `json:"ref"`
	Payload   map[string]interface{} `json:"payload"`
}

func (h *EventHandler) Append(c *gin.Context) {
	var req AppendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	evt, err := h.service.Append(c.Request.Context(), TenantID(c), req.Source, req.EventType, req.Ref, req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to append event", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, evt)
}

// RegisterEventRoutes wires the event feed ingress.
func RegisterEventRoutes(r *gin.RouterGroup, handler *EventHandler) {
	r.POST("/events", handler.Append)
}
