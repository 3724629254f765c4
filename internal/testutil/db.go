// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"testing"
	"time"

	"nosmobile/internal/database"
	"nosmobile/internal/ids"
	"nosmobile/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a migrated in-memory sqlite database. It uses a single
// connection, so code under test must only use the tx handle inside a
// transaction.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

// SeedUser inserts a user with a fresh id and code.
func SeedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{
		ID:          ids.New(),
		Username:    username,
		DisplayName: username,
		Code:        ids.Code(),
		StatusText:  models.DefaultStatusText,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}
