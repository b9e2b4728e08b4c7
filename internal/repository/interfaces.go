// Package repository defines data access interfaces for the playback journal.
// All database access goes through these interfaces so the session layer can
// be tested without a database.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/playcore/internal/models"
)

// SessionRepository defines operations for playback session persistence.
type SessionRepository interface {
	// Create creates a new session record.
	Create(ctx context.Context, session *models.PlaybackSession) error
	// GetByID retrieves a session by ID. Returns nil if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.PlaybackSession, error)
	// List retrieves the most recent sessions, newest first.
	List(ctx context.Context, limit int) ([]*models.PlaybackSession, error)
	// Update saves an existing session.
	Update(ctx context.Context, session *models.PlaybackSession) error
	// DeleteEndedBefore deletes terminal sessions, and their events, that
	// ended before the given time.
	DeleteEndedBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventRepository defines operations for journaled session events.
type EventRepository interface {
	// CreateBatch inserts events in one statement.
	CreateBatch(ctx context.Context, events []*models.SessionEvent) error
	// ListBySession retrieves events of a session with Seq greater than
	// afterSeq, in order. A kind filter of "" matches every event.
	ListBySession(ctx context.Context, sessionID models.ULID, afterSeq int64, kind string, limit int) ([]*models.SessionEvent, error)
	// CountBySession counts the events of a session.
	CountBySession(ctx context.Context, sessionID models.ULID) (int64, error)
}
