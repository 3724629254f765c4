package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"nosmobile/internal/ids"
	"nosmobile/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := &models.User{ID: ids.New(), Username: "alice", Code: ids.Code()}
	created, err := repo.CreateIfAbsent(ctx, alice)
	require.NoError(t, err)
	assert.True(t, created)

	again := &models.User{ID: ids.New(), Username: "alice", Code: ids.Code()}
	created, err = repo.CreateIfAbsent(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, stored.ID)
}

func TestUserRepository_Lookups(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	byCode, err := repo.GetByCode(ctx, bob.Code)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, byCode.ID)

	users, err := repo.GetByIDs(ctx, []string{bob.ID, alice.ID})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestUserRepository_SetPresence(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")

	at := time.Now().UTC().Truncate(time.Second)
	found, err := repo.SetPresence(ctx, alice.ID, true, at)
	require.NoError(t, err)
	assert.True(t, found)

	stored, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, stored.Online)
	require.NotNil(t, stored.LastSeenAt)
	assert.True(t, at.Equal(*stored.LastSeenAt))

	found, err = repo.SetPresence(ctx, "ghost", true, at)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUserRepository_GetByID_DatabaseError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1 ORDER BY "users"."id" LIMIT $2`)).
		WithArgs("u1", 1).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetByID(context.Background(), "u1")
	assert.True(t, models.IsCode(err, models.CodeInternal))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID_MockRow(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"id", "username", "code"}).AddRow("u1", "alice", "ABCD1234")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE id = $1 ORDER BY "users"."id" LIMIT $2`)).
		WithArgs("u1", 1).
		WillReturnRows(rows)

	u, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueConstraintError(t *testing.T) {
	assert.False(t, isUniqueConstraintError(nil))
	assert.True(t, isUniqueConstraintError(errors.New("UNIQUE constraint failed: users.code")))
	assert.True(t, isUniqueConstraintError(errors.New(`duplicate key value violates unique constraint "idx_users_code"`)))
	assert.False(t, isUniqueConstraintError(errors.New("connection refused")))
}
