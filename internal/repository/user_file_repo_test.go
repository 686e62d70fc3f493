package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialauth/internal/domain"
)

func newFileUsers(t *testing.T) (*FileUserRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	repo, err := NewFileUserRepository(path)
	require.NoError(t, err)
	return repo, path
}

func TestFileUserRepository_CreateAndFind(t *testing.T) {
	repo, path := newFileUsers(t)
	ctx := context.Background()

	user := domain.User{ID: "u1", Email: "a@example.com", Username: "Alice", PasswordHash: "$2a$10$hash", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, user))

	got, err := repo.FindByEmail(ctx, "A@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "alice", got.Username)

	got, err = repo.FindByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	reopened, err := NewFileUserRepository(path)
	require.NoError(t, err)
	got, err = reopened.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash, "password hash must survive a reload")

	_, err = repo.FindByPhone(ctx, "5550000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileUserRepository_Uniqueness(t *testing.T) {
	repo, _ := newFileUsers(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, domain.User{ID: "u1", Email: "a@example.com", Phone: "5551111", Username: "alice"}))

	cases := map[string]domain.User{
		"email":    {ID: "u2", Email: "A@EXAMPLE.com"},
		"phone":    {ID: "u3", Phone: "5551111"},
		"username": {ID: "u4", Email: "b@example.com", Username: "Alice"},
		"id":       {ID: "u1", Email: "c@example.com"},
	}
	for name, u := range cases {
		err := repo.Create(ctx, u)
		assert.ErrorIs(t, err, domain.ErrConflict, name)
	}

	require.NoError(t, repo.Create(ctx, domain.User{ID: "u5", Email: "e@example.com"}))
	err := repo.Update(ctx, domain.User{ID: "u5", Email: "a@example.com"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	err = repo.Update(ctx, domain.User{ID: "missing", Email: "m@example.com"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.Create(ctx, domain.User{ID: "u6"})
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestFileUserRepository_UpsertByUsername(t *testing.T) {
	repo, _ := newFileUsers(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, domain.User{ID: "u1", Email: "a@example.com", DisplayName: "A"}))
	require.NoError(t, repo.Create(ctx, domain.User{ID: "u2", Email: "b@example.com", Username: "bob"}))

	got, err := repo.UpsertByUsername(ctx, domain.User{ID: "u1", Username: "Ann", AvatarURL: "https://cdn/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "ann", got.Username)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, "A", got.DisplayName)
	assert.Equal(t, "https://cdn/a.png", got.AvatarURL)

	_, err = repo.UpsertByUsername(ctx, domain.User{ID: "u1", Username: "bob"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err = repo.UpsertByUsername(ctx, domain.User{Username: "bob", DisplayName: "Bobby"})
	require.NoError(t, err)
	assert.Equal(t, "u2", got.ID)
	assert.Equal(t, "Bobby", got.DisplayName)

	created, err := repo.UpsertByUsername(ctx, domain.User{ID: "u3", Username: "carol", Phone: "5553333"})
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())
	_, err = repo.FindByPhone(ctx, "5553333")
	require.NoError(t, err)
}

func TestFileUserRepository_PutReplacesAndDropsStale(t *testing.T) {
	repo, _ := newFileUsers(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, domain.User{ID: "old", Email: "a@example.com"}))
	require.NoError(t, repo.Create(ctx, domain.User{ID: "u1", Email: "x@example.com"}))

	require.NoError(t, repo.Put(ctx, domain.User{ID: "u1", Email: "a@example.com", Active: true}))

	got, err := repo.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.True(t, got.Active)

	_, err = repo.FindByID(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.FindByEmail(ctx, "x@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Put(ctx, domain.User{ID: "new", Phone: "5559999"}))
	_, err = repo.FindByID(ctx, "new")
	assert.NoError(t, err)
}
