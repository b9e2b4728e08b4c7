package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/playcore/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

func newMigrator(t *testing.T) (*Migrator, *gorm.DB) {
	db := setupTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	return m, db
}

func TestAllMigrations_VersionsAreUniqueAndOrdered(t *testing.T) {
	migrations := AllMigrations()
	require.NotEmpty(t, migrations)

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version,
			"migrations should be in ascending version order")
	}
}

func TestMigrator_Up(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))

	assert.True(t, db.Migrator().HasTable("playback_sessions"))
	assert.True(t, db.Migrator().HasTable("session_events"))
	assert.True(t, db.Migrator().HasColumn(&models.PlaybackSession{}, "rebuffers"))

	// Running again should not error
	require.NoError(t, m.Up(ctx))
}

func TestMigrator_StatusAndPending(t *testing.T) {
	m, _ := newMigrator(t)
	ctx := context.Background()

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, statuses, len(AllMigrations()))
	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, len(AllMigrations()))

	require.NoError(t, m.Up(ctx))

	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Version)
		assert.NotNil(t, s.AppliedAt)
	}

	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrator_Down(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasColumn(&models.PlaybackSession{}, "rebuffers"))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "002", pending[0].Version)

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable("playback_sessions"))

	// nothing left to roll back
	require.NoError(t, m.Down(ctx))
}

func TestMigrator_DownWithoutDefinition(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	full := NewMigrator(db, nil)
	full.RegisterAll(AllMigrations())
	require.NoError(t, full.Up(ctx))

	partial := NewMigrator(db, nil)
	partial.RegisterAll(AllMigrations()[:1])
	err := partial.Down(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definition not found")
}

func TestMigrations_CanInsertData(t *testing.T) {
	m, db := newMigrator(t)
	require.NoError(t, m.Up(context.Background()))

	session := &models.PlaybackSession{ManifestURL: "https://cdn.example/index.m3u8", State: models.SessionStatePlaying}
	require.NoError(t, db.Create(session).Error)
	assert.False(t, session.ID.IsZero())

	event := &models.SessionEvent{SessionID: session.ID, Seq: 1, Kind: "added_segment"}
	require.NoError(t, db.Create(event).Error)
	assert.False(t, event.ID.IsZero())
}
