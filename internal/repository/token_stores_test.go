package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialauth/internal/domain"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleOTP(scope string, expiresAt time.Time) domain.OTP {
	return domain.OTP{
		Scope:      scope,
		Channel:    domain.ChannelEmail,
		Identifier: "a@example.com",
		CodeHash:   "salt:hash",
		Purpose:    domain.OTPPurposeSignup,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestRedisOTPRepository(t *testing.T) {
	mr, client := newMiniredis(t)
	repo := NewRedisOTPRepository(client)
	ctx := context.Background()
	expires := time.Now().UTC().Add(5 * time.Minute).Truncate(time.Second)

	require.NoError(t, repo.Put(ctx, sampleOTP("email:a@example.com", expires)))
	assert.True(t, mr.Exists("otp:code:email:a@example.com"))
	ttl := mr.TTL("otp:code:email:a@example.com")
	assert.Greater(t, ttl, 4*time.Minute)
	assert.LessOrEqual(t, ttl, 5*time.Minute)

	replaced := sampleOTP("email:a@example.com", expires)
	replaced.Attempts = 2
	require.NoError(t, repo.Put(ctx, replaced))

	got, err := repo.Get(ctx, "email:a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, domain.OTPPurposeSignup, got.Purpose)
	assert.True(t, got.ExpiresAt.Equal(expires))

	require.NoError(t, repo.Delete(ctx, "email:a@example.com"))
	_, err = repo.Get(ctx, "email:a@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Put(ctx, sampleOTP("phone:5551234", expires)))
	mr.FastForward(6 * time.Minute)
	_, err = repo.Get(ctx, "phone:5551234")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisRefreshTokenStore(t *testing.T) {
	mr, client := newMiniredis(t)
	store := NewRedisRefreshTokenStore(client)
	ctx := context.Background()
	rec := domain.RefreshToken{Token: "tok", UserID: "u1", ExpiresAt: time.Now().UTC().Add(time.Hour)}

	require.NoError(t, store.Save(ctx, rec))
	assert.True(t, mr.Exists("auth:refresh:tok"))

	got, err := store.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = store.Get(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	consumed, err := store.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", consumed.UserID)
	assert.False(t, mr.Exists("auth:refresh:tok"))
	_, err = store.Consume(ctx, "tok")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Delete(ctx, "tok"))
	require.NoError(t, store.Delete(ctx, "tok"))
	_, err = store.Get(ctx, "tok")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisStoresReportUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	repo := NewRedisOTPRepository(client)

	_, err := repo.Get(context.Background(), "email:a@example.com")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	err = repo.Put(context.Background(), sampleOTP("email:a@example.com", time.Now().Add(time.Minute)))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestFileOTPRepository(t *testing.T) {
	repo, err := NewFileOTPRepository(filepath.Join(t.TempDir(), "otp.json"))
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Put(ctx, sampleOTP("email:old@example.com", now.Add(-time.Minute))))
	require.NoError(t, repo.Put(ctx, sampleOTP("email:a@example.com", now.Add(time.Minute))))

	_, err = repo.Get(ctx, "email:old@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound, "expired records are purged on write")

	second := sampleOTP("email:a@example.com", now.Add(2*time.Minute))
	second.CodeHash = "other:hash"
	require.NoError(t, repo.Put(ctx, second))

	items, err := repo.coll.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "other:hash", items[0].CodeHash)

	require.NoError(t, repo.Delete(ctx, "email:a@example.com"))
	_, err = repo.Get(ctx, "email:a@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileRefreshTokenStore(t *testing.T) {
	store, err := NewFileRefreshTokenStore(filepath.Join(t.TempDir(), "refresh.json"))
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Save(ctx, domain.RefreshToken{Token: "stale", UserID: "u1", ExpiresAt: now.Add(-time.Hour)}))
	got, err := store.Get(ctx, "stale")
	require.NoError(t, err, "expired tokens stay readable until the next write")
	assert.True(t, got.Expired(now))

	require.NoError(t, store.Save(ctx, domain.RefreshToken{Token: "live", UserID: "u1", ExpiresAt: now.Add(time.Hour)}))
	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Save(ctx, domain.RefreshToken{Token: "other", UserID: "u2", ExpiresAt: now.Add(time.Hour)}))
	consumed, err := store.Consume(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "u1", consumed.UserID)
	_, err = store.Consume(ctx, "live")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Get(ctx, "other")
	require.NoError(t, err, "consume removes only the matching token")

	require.NoError(t, store.Delete(ctx, "other"))
	_, err = store.Get(ctx, "other")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefreshTokenStores_ConsumeHasOneWinner(t *testing.T) {
	_, client := newMiniredis(t)
	fileStore, err := NewFileRefreshTokenStore(filepath.Join(t.TempDir(), "refresh.json"))
	require.NoError(t, err)
	stores := map[string]RefreshTokenStore{
		"memory": NewMemoryRefreshTokenStore(),
		"redis":  NewRedisRefreshTokenStore(client),
		"file":   fileStore,
	}
	ctx := context.Background()

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, domain.RefreshToken{Token: "tok", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}))

			const callers = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Consume(ctx, "tok")
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					assert.ErrorIs(t, err, domain.ErrNotFound)
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})
	}
}

func TestMemoryStores(t *testing.T) {
	ctx := context.Background()
	otps := NewMemoryOTPRepository()
	require.NoError(t, otps.Put(ctx, sampleOTP("s", time.Now().Add(time.Minute))))
	_, err := otps.Get(ctx, "s")
	require.NoError(t, err)
	require.NoError(t, otps.Delete(ctx, "s"))
	_, err = otps.Get(ctx, "s")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tokens := NewMemoryRefreshTokenStore()
	require.NoError(t, tokens.Save(ctx, domain.RefreshToken{Token: "t", UserID: "u"}))
	got, err := tokens.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "u", got.UserID)
}
