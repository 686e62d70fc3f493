package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialauth/internal/domain"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, v := range r.values {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

type fakeQuerier struct {
	tag     pgconn.CommandTag
	execErr error
	row     fakeRow
	pingErr error

	lastSQL  string
	lastArgs []any
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.lastSQL, q.lastArgs = sql, args
	return q.tag, q.execErr
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.lastSQL, q.lastArgs = sql, args
	return q.row
}

func (q *fakeQuerier) Ping(context.Context) error {
	return q.pingErr
}

func strPtr(s string) *string { return &s }

func TestClassifyPgError(t *testing.T) {
	assert.NoError(t, classifyPgError(nil))
	assert.ErrorIs(t, classifyPgError(pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, classifyPgError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}), domain.ErrConflict)
	assert.ErrorIs(t, classifyPgError(errors.New("dial tcp: connection refused")), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, classifyPgError(context.DeadlineExceeded), domain.ErrStoreUnavailable)

	err := classifyPgError(&pgconn.PgError{Code: "42601"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrConflict)

	assert.ErrorIs(t, classifyPgError(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, classifyPgError(context.Canceled), domain.ErrStoreUnavailable)
}

func TestPgUserRepository_FindScansNullableColumns(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	q := &fakeQuerier{row: fakeRow{values: []any{
		"u1", strPtr("a@example.com"), (*string)(nil), strPtr("alice"),
		"Alice", "$2a$12$x", true, "", created, created,
	}}}
	repo := &PgUserRepository{pool: q}

	got, err := repo.FindByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "", got.Phone)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, got.Active)
	assert.Equal(t, []any{"a@example.com"}, q.lastArgs)

	q.row = fakeRow{err: pgx.ErrNoRows}
	_, err = repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPgUserRepository_Writes(t *testing.T) {
	ctx := context.Background()
	q := &fakeQuerier{tag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := &PgUserRepository{pool: q}

	require.NoError(t, repo.Create(ctx, domain.User{ID: "u1", Email: "a@example.com", Username: "Alice"}))
	assert.Nil(t, q.lastArgs[2], "empty phone is stored as NULL")
	assert.Equal(t, "alice", *(q.lastArgs[3].(*string)))

	q.execErr = &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"}
	err := repo.Create(ctx, domain.User{ID: "u2", Email: "b@example.com", Username: "alice"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	q.execErr = nil
	q.tag = pgconn.NewCommandTag("UPDATE 0")
	err = repo.Update(ctx, domain.User{ID: "missing", Email: "m@example.com"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	q.tag = pgconn.NewCommandTag("UPDATE 1")
	assert.NoError(t, repo.Update(ctx, domain.User{ID: "u1", Email: "a@example.com"}))

	err = repo.Create(ctx, domain.User{ID: "u3"})
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestPgUserRepository_PingWrapsUnavailable(t *testing.T) {
	repo := &PgUserRepository{pool: &fakeQuerier{pingErr: errors.New("connection refused")}}
	assert.ErrorIs(t, repo.Ping(context.Background()), domain.ErrStoreUnavailable)
}

func TestPgTokenStores(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Minute)

	q := &fakeQuerier{row: fakeRow{values: []any{
		"email:a@example.com", "email", "a@example.com", "salt:hash", "reset", 1, expires, expires,
	}}}
	otps := &PgOTPRepository{pool: q}
	got, err := otps.Get(ctx, "email:a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, got.Channel)
	assert.Equal(t, domain.OTPPurposeReset, got.Purpose)
	assert.Equal(t, 1, got.Attempts)

	q.execErr = errors.New("i/o timeout")
	assert.ErrorIs(t, otps.Put(ctx, got), domain.ErrStoreUnavailable)

	q = &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	tokens := &PgRefreshTokenStore{pool: q}
	_, err = tokens.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, tokens.Delete(ctx, "nope"))
	assert.Equal(t, []any{"nope"}, q.lastArgs)

	_, err = tokens.Consume(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	q.row = fakeRow{values: []any{"tok", "u1", expires, expires}}
	rec, err := tokens.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Contains(t, q.lastSQL, "RETURNING")
}
