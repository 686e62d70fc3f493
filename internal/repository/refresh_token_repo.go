package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"socialauth/internal/domain"
	"socialauth/internal/filestore"
)

// RefreshTokenStore guarda refresh tokens opacos y permite revocarlos.
// Consume lee y borra el registro en un solo paso: de varios llamadores concurrentes con
// el mismo token, solo uno lo obtiene y el resto recibe domain.ErrNotFound.
type RefreshTokenStore interface {
	Save(ctx context.Context, token domain.RefreshToken) error
	Get(ctx context.Context, token string) (domain.RefreshToken, error)
	Consume(ctx context.Context, token string) (domain.RefreshToken, error)
	Delete(ctx context.Context, token string) error
}

type memoryRefreshTokenStore struct {
	mu    sync.Mutex
	items map[string]domain.RefreshToken
}

func NewMemoryRefreshTokenStore() RefreshTokenStore {
	return &memoryRefreshTokenStore{
		items: make(map[string]domain.RefreshToken),
	}
}

func (s *memoryRefreshTokenStore) Save(_ context.Context, token domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(token.Token) == "" {
		return nil
	}
	s.items[token.Token] = token
	return nil
}

func (s *memoryRefreshTokenStore) Get(_ context.Context, token string) (domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[token]
	if !ok {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memoryRefreshTokenStore) Consume(_ context.Context, token string) (domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[token]
	if !ok {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	delete(s.items, token)
	return rec, nil
}

func (s *memoryRefreshTokenStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, token)
	return nil
}

type redisRefreshTokenStore struct {
	client redisKV
	prefix string
}

func NewRedisRefreshTokenStore(client *redis.Client) RefreshTokenStore {
	if client == nil {
		return nil
	}
	return &redisRefreshTokenStore{
		client: client,
		prefix: "auth:refresh:",
	}
}

func (s *redisRefreshTokenStore) Save(ctx context.Context, token domain.RefreshToken) error {
	key := strings.TrimSpace(token.Token)
	if key == "" {
		return nil
	}
	return redisSetJSON(ctx, s.client, s.prefix+key, token, time.Until(token.ExpiresAt))
}

func (s *redisRefreshTokenStore) Get(ctx context.Context, token string) (domain.RefreshToken, error) {
	key := strings.TrimSpace(token)
	if key == "" {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	var rec domain.RefreshToken
	if err := redisGetJSON(ctx, s.client, s.prefix+key, &rec); err != nil {
		return domain.RefreshToken{}, err
	}
	return rec, nil
}

func (s *redisRefreshTokenStore) Consume(ctx context.Context, token string) (domain.RefreshToken, error) {
	key := strings.TrimSpace(token)
	if key == "" {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	var rec domain.RefreshToken
	if err := redisGetDelJSON(ctx, s.client, s.prefix+key, &rec); err != nil {
		return domain.RefreshToken{}, err
	}
	return rec, nil
}

func (s *redisRefreshTokenStore) Delete(ctx context.Context, token string) error {
	key := strings.TrimSpace(token)
	if key == "" {
		return nil
	}
	return redisDel(ctx, s.client, s.prefix+key)
}

// PgRefreshTokenStore implementa RefreshTokenStore sobre la tabla refresh_tokens.
type PgRefreshTokenStore struct {
	pool pgQuerier
}

func NewPgRefreshTokenStore(pool *pgxpool.Pool) *PgRefreshTokenStore {
	return &PgRefreshTokenStore{pool: pool}
}

func (s *PgRefreshTokenStore) Save(ctx context.Context, token domain.RefreshToken) error {
	const query = `
		INSERT INTO refresh_tokens (token, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query, token.Token, token.UserID, token.ExpiresAt, token.CreatedAt)
	return classifyPgError(err)
}

func (s *PgRefreshTokenStore) Get(ctx context.Context, token string) (domain.RefreshToken, error) {
	const query = `
		SELECT token, user_id, expires_at, created_at
		FROM refresh_tokens
		WHERE token = $1
	`
	var rec domain.RefreshToken
	err := s.pool.QueryRow(ctx, query, token).Scan(&rec.Token, &rec.UserID, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		return domain.RefreshToken{}, classifyPgError(err)
	}
	return rec, nil
}

func (s *PgRefreshTokenStore) Consume(ctx context.Context, token string) (domain.RefreshToken, error) {
	const query = `
		DELETE FROM refresh_tokens
		WHERE token = $1
		RETURNING token, user_id, expires_at, created_at
	`
	var rec domain.RefreshToken
	err := s.pool.QueryRow(ctx, query, token).Scan(&rec.Token, &rec.UserID, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		return domain.RefreshToken{}, classifyPgError(err)
	}
	return rec, nil
}

func (s *PgRefreshTokenStore) Delete(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	return classifyPgError(err)
}

// FileRefreshTokenStore guarda los tokens en un arreglo JSON y purga vencidos al escribir.
type FileRefreshTokenStore struct {
	coll *filestore.Collection[domain.RefreshToken]
}

func NewFileRefreshTokenStore(path string) (*FileRefreshTokenStore, error) {
	coll, err := filestore.NewCollection[domain.RefreshToken](path)
	if err != nil {
		return nil, err
	}
	return &FileRefreshTokenStore{coll: coll}, nil
}

func (s *FileRefreshTokenStore) Save(ctx context.Context, token domain.RefreshToken) error {
	now := time.Now().UTC()
	return s.coll.Update(ctx, func(items []domain.RefreshToken) ([]domain.RefreshToken, error) {
		out := make([]domain.RefreshToken, 0, len(items)+1)
		for _, it := range items {
			if it.Token == token.Token || it.Expired(now) {
				continue
			}
			out = append(out, it)
		}
		return append(out, token), nil
	})
}

func (s *FileRefreshTokenStore) Get(ctx context.Context, token string) (domain.RefreshToken, error) {
	items, err := s.coll.Load(ctx)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	for _, it := range items {
		if it.Token == token {
			return it, nil
		}
	}
	return domain.RefreshToken{}, domain.ErrNotFound
}

// Consume corre dentro del ciclo bloqueado de la coleccion; si el token no esta, el
// archivo no se reescribe.
func (s *FileRefreshTokenStore) Consume(ctx context.Context, token string) (domain.RefreshToken, error) {
	var rec domain.RefreshToken
	err := s.coll.Update(ctx, func(items []domain.RefreshToken) ([]domain.RefreshToken, error) {
		for i, it := range items {
			if it.Token == token {
				rec = it
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, domain.ErrNotFound
	})
	if err != nil {
		return domain.RefreshToken{}, err
	}
	return rec, nil
}

func (s *FileRefreshTokenStore) Delete(ctx context.Context, token string) error {
	return s.coll.Update(ctx, func(items []domain.RefreshToken) ([]domain.RefreshToken, error) {
		out := items[:0]
		for _, it := range items {
			if it.Token != token {
				out = append(out, it)
			}
		}
		return out, nil
	})
}
