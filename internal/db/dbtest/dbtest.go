// Package dbtest opens migrated databases for package tests.
package dbtest

import (
	"os"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"otonote/internal/db"
)

// PostgresEnv names the DSN used by integration tests.
const PostgresEnv = "OTONOTE_TEST_POSTGRES"

func Open(t testing.TB) *gorm.DB {
	t.Helper()
	return open(t, "sqlite:"+filepath.Join(t.TempDir(), "otonote.db"))
}

// OpenPostgres connects to the database named by OTONOTE_TEST_POSTGRES and
// empties the jobs table. The test is skipped when the variable is unset.
func OpenPostgres(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(PostgresEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresEnv)
	}
	gdb := open(t, dsn)
	if err := gdb.Exec(`truncate table jobs restart identity`).Error; err != nil {
		t.Fatalf("truncate jobs: %v", err)
	}
	return gdb
}

func open(t testing.TB, dsn string) *gorm.DB {
	t.Helper()

	gdb, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
