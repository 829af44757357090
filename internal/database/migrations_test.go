package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/config"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsRepairsVoteCounters(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(append(edits.Models(), &migrationRecord{})...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	proposal := edits.EditProposal{
		ProposalID:       "proposal-1",
		Collection:       "deities",
		EntityID:         "zeus",
		Field:            "name",
		OldValue:         "Zeus",
		NewValue:         "Zeus, King of Olympus",
		AuthorID:         "contributor-1",
		Status:           edits.StatusPending,
		Upvotes:          9,
		Downvotes:        4,
		CreatedAtSeconds: 1700000000,
	}
	if err := database.Create(&proposal).Error; err != nil {
		testContext.Fatalf("failed to insert proposal: %v", err)
	}
	votes := []edits.VoteRecord{
		{ProposalID: "proposal-1", UserID: "voter-1", Value: 1, CastAtSeconds: 1700000001},
		{ProposalID: "proposal-1", UserID: "voter-2", Value: 1, CastAtSeconds: 1700000002},
		{ProposalID: "proposal-1", UserID: "voter-3", Value: -1, CastAtSeconds: 1700000003},
	}
	if err := database.Create(&votes).Error; err != nil {
		testContext.Fatalf("failed to insert votes: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored edits.EditProposal
	if err := database.Where("proposal_id = ?", proposal.ProposalID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload proposal: %v", err)
	}
	if stored.Upvotes != 2 || stored.Downvotes != 1 {
		testContext.Fatalf("expected counters rebuilt from ledger, got up=%d down=%d", stored.Upvotes, stored.Downvotes)
	}
	if stored.AuthorName != "contributor-1" {
		testContext.Fatalf("expected author name backfilled, got %q", stored.AuthorName)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRecountVoteCounters).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// Applied migrations are skipped on the next start.
	if err := database.Model(&edits.EditProposal{}).Where("proposal_id = ?", proposal.ProposalID).Update("upvotes", 50).Error; err != nil {
		testContext.Fatalf("failed to adjust counters: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	if err := database.Where("proposal_id = ?", proposal.ProposalID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload proposal: %v", err)
	}
	if stored.Upvotes != 50 {
		testContext.Fatalf("expected applied migration to be skipped, got up=%d", stored.Upvotes)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "edits.db")

	database, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"edit_proposals", "edit_votes", "edit_history", "user_identities", "entity_owners", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	var applied int64
	if err := database.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if applied != int64(len(registeredMigrations())) {
		testContext.Fatalf("expected every migration recorded, got %d", applied)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "mysql"}, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(config.DatabaseConfig{Driver: config.DriverPostgres}, nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
