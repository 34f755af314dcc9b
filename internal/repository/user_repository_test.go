package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envisionapp/envision-api/internal/filestore"
	"github.com/envisionapp/envision-api/internal/model"
)

func fileUserRepo(t *testing.T) *UserRepo {
	t.Helper()
	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	return NewUserRepo(nil, files)
}

func TestUserUpsertAndLookup(t *testing.T) {
	r := fileUserRepo(t)
	ctx := context.Background()

	u := &model.User{ID: "u-1", UserToken: "tok-1", IsGuest: true}
	require.NoError(t, r.Upsert(ctx, u))
	assert.False(t, u.CreatedAt.IsZero())

	byID, err := r.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", byID.UserToken)

	byTok, err := r.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", byTok.ID)

	_, err = r.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = r.GetByToken(ctx, "nope")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpsert_PreservesCreatedAt(t *testing.T) {
	r := fileUserRepo(t)
	ctx := context.Background()

	u := &model.User{ID: "u-1", UserToken: "tok-1"}
	require.NoError(t, r.Upsert(ctx, u))
	created := u.CreatedAt

	time.Sleep(5 * time.Millisecond)
	u.TeamID = "team-1"
	require.NoError(t, r.Upsert(ctx, u))
	assert.Equal(t, created, u.CreatedAt)
	assert.True(t, u.UpdatedAt.After(created) || u.UpdatedAt.Equal(created))
}

func TestUpdateTokenBundle(t *testing.T) {
	r := fileUserRepo(t)
	ctx := context.Background()

	u := &model.User{ID: "u-1", UserToken: "tok-1", Habits: []model.HabitRef{{ID: "h1"}}}
	require.NoError(t, r.Upsert(ctx, u))

	b := model.TokenBundle{
		AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer",
		ExpiresIn: 3600, ObtainedAt: time.Now().UTC(),
	}
	require.NoError(t, r.UpdateTokenBundle(ctx, "u-1", b))

	got, err := r.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "at", got.Token.AccessToken)
	// Unrelated fields survive a token write.
	assert.Len(t, got.Habits, 1)
}

func TestAppendPackage_ReplacesByID(t *testing.T) {
	r := fileUserRepo(t)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, &model.User{ID: "u-1", UserToken: "tok-1"}))

	first := model.PackageItem{ID: "p-1", AssetURL: "https://cdn/a.png"}
	require.NoError(t, r.AppendPackage(ctx, "u-1", first))
	second := model.PackageItem{ID: "p-2", AssetURL: "https://cdn/b.png"}
	require.NoError(t, r.AppendPackage(ctx, "u-1", second))

	got, err := r.GetByID(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, got.Packages, 2)

	// Re-adding an existing id overwrites instead of duplicating, which
	// is what makes a retried import safe.
	replaced := model.PackageItem{ID: "p-1", AssetURL: "https://cdn/a-v2.png"}
	require.NoError(t, r.AppendPackage(ctx, "u-1", replaced))
	got, err = r.GetByID(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, got.Packages, 2)
	assert.Equal(t, "https://cdn/a-v2.png", got.Packages[0].AssetURL)
}
