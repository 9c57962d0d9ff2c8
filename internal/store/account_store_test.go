package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/usermanager/internal/database/testutil"
	"github.com/charlesng35/usermanager/internal/models"
)

func newTestStore(t *testing.T) *GormAccountStore {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGormAccountStore(db)
	require.NoError(t, err)
	return store
}

func TestNewGormAccountStoreRequiresDB(t *testing.T) {
	_, err := NewGormAccountStore(nil)
	require.Error(t, err)
}

func TestCreateAndFindByEmailIsCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &models.Account{Username: "alice", Email: "Alice@Example.com", Password: "hash"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	account, err := store.FindByEmail(ctx, "  alice@EXAMPLE.com ")
	require.NoError(t, err)
	require.NotNil(t, account)
	require.Equal(t, id, account.ID)
	require.Equal(t, "Alice@Example.com", account.Email)

	byID, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, byID)
	require.Equal(t, "alice", byID.Username)
}

func TestFindReturnsNilWhenAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account, err := store.FindByEmail(ctx, "ghost@example.com")
	require.NoError(t, err)
	require.Nil(t, account)

	account, err = store.FindByID(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, account)

	account, err = store.FindByResetTokenHash(ctx, "")
	require.NoError(t, err)
	require.Nil(t, account)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &models.Account{Username: "alice", Email: "alice@example.com", Password: "hash"})
	require.NoError(t, err)

	_, err = store.Create(ctx, &models.Account{Username: "other", Email: "ALICE@example.com", Password: "hash"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestUpdatePersistsAndClearsResetFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &models.Account{Username: "bob", Email: "bob@example.com", Password: "hash"}
	_, err := store.Create(ctx, account)
	require.NoError(t, err)

	account.SetResetToken("digest", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, store.Update(ctx, account))

	found, err := store.FindByResetTokenHash(ctx, "digest")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, account.ID, found.ID)
	require.True(t, found.HasResetToken())

	found.ClearResetToken()
	found.Password = "new-hash"
	require.NoError(t, store.Update(ctx, found))

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, reloaded.HasResetToken())
	require.Equal(t, "new-hash", reloaded.Password)

	gone, err := store.FindByResetTokenHash(ctx, "digest")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestUpdateRequiresPersistedAccount(t *testing.T) {
	store := newTestStore(t)

	require.Error(t, store.Update(context.Background(), &models.Account{}))
	require.Error(t, store.Update(context.Background(), &models.Account{BaseModel: models.BaseModel{ID: "nope"}, Email: "x@example.com"}))
}

func TestIsUniqueConstraintError(t *testing.T) {
	require.False(t, isUniqueConstraintError(nil))
	require.True(t, isUniqueConstraintError(&pgconn.PgError{Code: "23505"}))
	require.True(t, isUniqueConstraintError(&mysql.MySQLError{Number: 1062}))
	require.True(t, isUniqueConstraintError(errors.New("UNIQUE constraint failed: accounts.email_key")))
	require.False(t, isUniqueConstraintError(errors.New("connection refused")))
}
