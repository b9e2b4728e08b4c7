package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/playcore/internal/models"
)

// eventInsertBatch is the number of rows per INSERT statement.
const eventInsertBatch = 200

// eventRepo implements EventRepository using GORM.
type eventRepo struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *gorm.DB) *eventRepo {
	return &eventRepo{db: db}
}

// CreateBatch inserts events.
func (r *eventRepo) CreateBatch(ctx context.Context, events []*models.SessionEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(events, eventInsertBatch).Error; err != nil {
		return fmt.Errorf("creating session events: %w", err)
	}
	return nil
}

// ListBySession retrieves events of a session after the given sequence number.
func (r *eventRepo) ListBySession(ctx context.Context, sessionID models.ULID, afterSeq int64, kind string, limit int) ([]*models.SessionEvent, error) {
	query := r.db.WithContext(ctx).
		Where("session_id = ? AND seq > ?", sessionID, afterSeq)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var events []*models.SessionEvent
	if err := query.Order("seq ASC").Limit(clampLimit(limit)).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing session events: %w", err)
	}
	return events, nil
}

// CountBySession counts the events of a session.
func (r *eventRepo) CountBySession(ctx context.Context, sessionID models.ULID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SessionEvent{}).
		Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting session events: %w", err)
	}
	return count, nil
}

var (
	_ SessionRepository = (*sessionRepo)(nil)
	_ EventRepository   = (*eventRepo)(nil)
)
