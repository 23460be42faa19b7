package database

import (
	"errors"
	"time"

	"github.com/inkfold/pilot/backend/internal/collab"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillCollabStateArrays = "2026-08-10_backfill_collab_state_arrays"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillCollabStateArrays, apply: backfillCollabStateArrays},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before the step log became non-nullable can hold empty strings
// where the decoder expects JSON arrays.
func backfillCollabStateArrays(db *gorm.DB) error {
	if err := db.Model(&collab.State{}).
		Where("steps_json IS NULL OR steps_json = ''").
		Update("steps_json", "[]").Error; err != nil {
		return err
	}
	return db.Model(&collab.State{}).
		Where("client_ids_json IS NULL OR client_ids_json = ''").
		Update("client_ids_json", "[]").Error
}
