package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kontor/internal/models"
	"kontor/internal/rules"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EventService owns the append-only tenant event feed the automation engine
// consumes. Producers (CRM, mail intake, task module) append; the runner
// reads in strict ID order behind a per-source cursor.
type EventService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewEventService(db *gorm.DB, logger *logrus.Logger) *EventService {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventService{db: db, logger: logger}
}

// Append adds one event to the feed. An empty ref gets a generated one so
// every event has a stable idempotency key.
func (s *EventService) Append(ctx context.Context, tenantID, source, eventType, ref string, payload map[string]interface{}) (*models.Event, error) {
	if tenantID == "" || source == "" || eventType == "" {
		return nil, fmt.Errorf("tenant, source and event type are required")
	}
	if ref == "" {
		ref = "evt-" + uuid.NewString()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	evt := &models.Event{
		TenantID:  tenantID,
		Source:    source,
		EventType: eventType,
		Ref:       ref,
		Payload:   string(raw),
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(evt).Error; err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return evt, nil
}

// FetchSince returns events for one (tenant, source) feed with ID greater
// than the cursor position, oldest first, bounded by limit.
func (s *EventService) FetchSince(ctx context.Context, tenantID, source string, after uint, limit int) ([]models.Event, error) {
	var events []models.Event
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND source = ? AND id > ?", tenantID, source, after).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return events, nil
}

// Sources lists the distinct feed sources a tenant has events for.
func (s *EventService) Sources(ctx context.Context, tenantID string) ([]string, error) {
	var sources []string
	err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("tenant_id = ?", tenantID).
		Distinct("source").
		Order("source").
		Pluck("source", &sources).Error
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// FindByRef loads a single event by its tenant-scoped reference.
func (s *EventService) FindByRef(ctx context.Context, tenantID, ref string) (*models.Event, error) {
	var evt models.Event
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND ref = ?", tenantID, ref).
		First(&evt).Error
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// EventContext flattens an event into the allow-listed field map conditions
// evaluate against. Payload keys outside the allow-list are dropped, nested
// values are dropped, and the engine-provided fields always win.
func EventContext(evt *models.Event) map[string]interface{} {
	ctx := map[string]interface{}{}
	if evt.Payload != "" {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			for k, v := range payload {
				if !rules.IsContextField(k) {
					continue
				}
				switch v.(type) {
				case string, float64, bool, nil:
					ctx[k] = v
				}
			}
		}
	}
	ctx["event_type"] = evt.EventType
	ctx["ref"] = evt.Ref
	ctx["source"] = evt.Source
	return ctx
}
