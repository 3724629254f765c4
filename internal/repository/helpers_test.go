package repository

import (
	"context"
	"testing"
	"time"

	"nosmobile/internal/database"
	"nosmobile/internal/ids"
	"nosmobile/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a migrated in-memory sqlite database on a single connection.
func setupTestDB(t *testing.T) *gorm.DB {
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

// setupMockDB creates a GORM *gorm.DB backed by sqlmock for unit tests.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{ID: ids.New(), Username: username, DisplayName: username, Code: ids.Code()}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedConversation(t *testing.T, db *gorm.DB, userIDs ...string) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{ID: ids.New(), IsGroup: len(userIDs) > 2, CreatedBy: userIDs[0]}
	parts := make([]models.ConversationParticipant, 0, len(userIDs))
	for i, id := range userIDs {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleAdmin
		}
		parts = append(parts, models.ConversationParticipant{ConversationID: conv.ID, UserID: id, Role: role})
	}
	require.NoError(t, NewConversationRepository(db).Create(context.Background(), conv, parts))
	return conv
}

func newMessage(convID, senderID, content string, ts time.Time) *models.Message {
	return &models.Message{
		ID:             ids.MessageID(),
		ConversationID: convID,
		SenderID:       senderID,
		Type:           models.MessageText,
		Content:        content,
		Timestamp:      ts,
		Status:         models.StatusSent,
	}
}
