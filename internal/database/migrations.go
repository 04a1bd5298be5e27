package database

import (
	"errors"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/library"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeBookFormats   = "2026-10-01_normalize_book_formats"
	migrationBackfillBookCharacters = "2026-10-06_backfill_book_characters"
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
		{name: migrationNormalizeBookFormats, apply: normalizeBookFormats},
		{name: migrationBackfillBookCharacters, apply: backfillBookCharacters},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Older imports stored formats with dots or upper case and sometimes none.
func normalizeBookFormats(db *gorm.DB) error {
	if err := db.Model(&library.Book{}).
		Where("format <> LOWER(TRIM(format, '. '))").
		Update("format", gorm.Expr("LOWER(TRIM(format, '. '))")).Error; err != nil {
		return err
	}
	return db.Model(&library.Book{}).
		Where("format = ''").
		Update("format", library.FormatText).Error
}

func backfillBookCharacters(db *gorm.DB) error {
	return db.Model(&library.Book{}).
		Where("characters = 0 AND content <> ''").
		Update("characters", gorm.Expr("LENGTH(content)")).Error
}
