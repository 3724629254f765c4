package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nosmobile/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrate_CreatesEveryTable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: NewGormLogger()})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))

	for _, m := range PersistentModels() {
		assert.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
	}
}

func TestConnect_SQLite(t *testing.T) {
	cfg := &config.Config{
		Env:             "test",
		DBDriver:        "sqlite",
		SQLitePath:      filepath.Join(t.TempDir(), "nos.db"),
		CallRingTimeout: time.Minute,
	}

	db, err := Connect(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, Ping(ctx, db))
	assert.True(t, db.Migrator().HasTable("messages"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}
