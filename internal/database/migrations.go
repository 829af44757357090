package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRecountVoteCounters = "2026-10-01_recount_vote_counters"
	migrationBackfillAuthorNames = "2026-10-01_backfill_author_names"
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

func registeredMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationRecountVoteCounters, apply: edits.RecountVoteCounters},
		{name: migrationBackfillAuthorNames, apply: backfillAuthorNames},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range registeredMigrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(transaction *gorm.DB) error {
			if err := migration.apply(transaction); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return transaction.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
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

// backfillAuthorNames gives proposals submitted without a display name their author id as label.
func backfillAuthorNames(db *gorm.DB) error {
	return db.Model(&edits.EditProposal{}).
		Where("author_name = ''").
		Update("author_name", gorm.Expr("author_id")).Error
}
