package database

import (
	"fmt"

	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/collab"
	"github.com/inkfold/pilot/backend/internal/comments"
	"github.com/inkfold/pilot/backend/internal/outline"
	"github.com/inkfold/pilot/backend/internal/positioning"
	"github.com/inkfold/pilot/backend/internal/suggest"
	"github.com/inkfold/pilot/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&users.Account{},
		&outline.Book{},
		&outline.Chapter{},
		&outline.Section{},
		&outline.TalkingPoint{},
		&access.Collaborator{},
		&collab.State{},
		&suggest.ContentChange{},
		&comments.Comment{},
		&positioning.Pillar{},
		&positioning.ChatMessage{},
		&positioning.Brief{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
