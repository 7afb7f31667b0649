package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tandemlabs/tandem/backend/internal/content"
)

const (
	migrationBackfillItemStateVersions = "2026-08-20_backfill_item_state_versions"
	migrationBackfillCursorBranches    = "2026-08-20_backfill_cursor_branches"
)

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
		{name: migrationBackfillItemStateVersions, apply: backfillItemStateVersions},
		{name: migrationBackfillCursorBranches, apply: backfillCursorBranches},
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

// Item state rows written before the version column existed carry version 0,
// which the compare-and-swap loop can never match.
func backfillItemStateVersions(db *gorm.DB) error {
	return db.Model(&content.ItemState{}).
		Where("version = 0").
		Update("version", 1).Error
}

func backfillCursorBranches(db *gorm.DB) error {
	return db.Model(&content.Cursor{}).
		Where("branch = ''").
		Update("branch", content.DefaultBranch).Error
}
