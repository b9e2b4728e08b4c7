package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/playcore/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: playback_sessions and session_events
//   - 002: rebuffer counter on playback_sessions
func AllMigrations() []Migration {
	return []Migration{
		migration001JournalSchema(),
		migration002SessionRebuffers(),
	}
}

func migration001JournalSchema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create journal tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.PlaybackSession{}, &models.SessionEvent{})
		},
		Down: func(tx *gorm.DB) error {
			for _, table := range []string{"session_events", "playback_sessions"} {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002SessionRebuffers adds the rebuffer counter to journals created
// before it existed. Fresh schemas already have it from 001.
func migration002SessionRebuffers() Migration {
	return Migration{
		Version:     "002",
		Description: "Add rebuffers column to playback_sessions",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasColumn(&models.PlaybackSession{}, "rebuffers") {
				return nil
			}
			return tx.Migrator().AddColumn(&models.PlaybackSession{}, "Rebuffers")
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasColumn(&models.PlaybackSession{}, "rebuffers") {
				return nil
			}
			return tx.Migrator().DropColumn(&models.PlaybackSession{}, "rebuffers")
		},
	}
}
