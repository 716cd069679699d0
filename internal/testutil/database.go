package testutil

import (
	"testing"

	"clipvault/internal/clip"
	"clipvault/internal/database"
	"clipvault/internal/database/migrations"
)

// NewTestDatabase creates an in-memory SQLite database with all migrations
// applied. It is closed automatically when the test completes.
func NewTestDatabase(t *testing.T) clip.Database {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := migrations.Up(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB)
	t.Cleanup(func() { db.Close() })
	return db
}
