// Package testing provides testing utilities and helpers for the vaultpilot project.
package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/vaultpilot/internal/database"
)

// NewTestDB creates a file-backed SQLite database with the named schema applied.
// Returns the database instance and an idempotent cleanup function.
//
// Supported schema names:
//   - "vaults" - applies vaults_schema.sql
//   - "ledger" - applies ledger_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// A file per test keeps connections from the pool on the same database,
	// which :memory: would not
	dir, err := os.MkdirTemp("", "vaultpilot-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.db", name))

	profile := database.ProfileStandard
	if name == "ledger" {
		profile = database.ProfileLedger
	}

	db, err := database.New(database.Config{
		Path:    path,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.RemoveAll(dir)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	return db, func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		if err := os.RemoveAll(dir); err != nil {
			t.Logf("Warning: Failed to remove temporary directory %s: %v", dir, err)
		}
	}
}
