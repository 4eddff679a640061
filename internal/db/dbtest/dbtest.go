// Package dbtest opens throwaway SQLite databases with the production schema for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shinyyama/goodjob-alarm/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated database backed by a file in t.TempDir. The pool holds a single
// connection so concurrent writers are serialized the way a row lock would serialize them.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alarm.db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(conn, true); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// MustCreate inserts fixtures, failing the test on error.
func MustCreate(t testing.TB, conn *gorm.DB, values ...interface{}) {
	t.Helper()
	for _, v := range values {
		if err := conn.Create(v).Error; err != nil {
			t.Fatalf("create %T: %v", v, err)
		}
	}
}
