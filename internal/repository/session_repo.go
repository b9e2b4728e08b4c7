package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/playcore/internal/models"
)

// maxListLimit bounds List and ListBySession.
const maxListLimit = 1000

// sessionRepo implements SessionRepository using GORM.
type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *gorm.DB) *sessionRepo {
	return &sessionRepo{db: db}
}

// Create creates a new session record.
func (r *sessionRepo) Create(ctx context.Context, session *models.PlaybackSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID.
func (r *sessionRepo) GetByID(ctx context.Context, id models.ULID) (*models.PlaybackSession, error) {
	var session models.PlaybackSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session by ID: %w", err)
	}
	return &session, nil
}

// List retrieves the most recent sessions.
func (r *sessionRepo) List(ctx context.Context, limit int) ([]*models.PlaybackSession, error) {
	var sessions []*models.PlaybackSession
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(clampLimit(limit)).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Update saves an existing session.
func (r *sessionRepo) Update(ctx context.Context, session *models.PlaybackSession) error {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// DeleteEndedBefore deletes terminal sessions that ended before the given time.
func (r *sessionRepo) DeleteEndedBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&models.PlaybackSession{}).
			Select("id").
			Where("ended_at IS NOT NULL AND ended_at < ?", before)

		if err := tx.Where("session_id IN (?)", expired).Delete(&models.SessionEvent{}).Error; err != nil {
			return fmt.Errorf("deleting session events: %w", err)
		}

		result := tx.Where("ended_at IS NOT NULL AND ended_at < ?", before).Delete(&models.PlaybackSession{})
		if result.Error != nil {
			return fmt.Errorf("deleting sessions: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
