package repository

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"socialauth/internal/domain"
	"socialauth/internal/filestore"
)

// OTPRepository persiste codigos por scope. Put reemplaza cualquier registro previo del
// mismo scope, asi nunca hay dos codigos vivos para la misma clave.
type OTPRepository interface {
	Put(ctx context.Context, otp domain.OTP) error
	Get(ctx context.Context, scope string) (domain.OTP, error)
	Delete(ctx context.Context, scope string) error
}

type memoryOTPRepository struct {
	mu    sync.Mutex
	items map[string]domain.OTP
}

func NewMemoryOTPRepository() OTPRepository {
	return &memoryOTPRepository{items: make(map[string]domain.OTP)}
}

func (r *memoryOTPRepository) Put(_ context.Context, otp domain.OTP) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[otp.Scope] = otp
	return nil
}

func (r *memoryOTPRepository) Get(_ context.Context, scope string) (domain.OTP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	otp, ok := r.items[scope]
	if !ok {
		return domain.OTP{}, domain.ErrNotFound
	}
	return otp, nil
}

func (r *memoryOTPRepository) Delete(_ context.Context, scope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, scope)
	return nil
}

type redisOTPRepository struct {
	client redisKV
	prefix string
}

// NewRedisOTPRepository guarda cada codigo con TTL igual a su vencimiento.
func NewRedisOTPRepository(client *redis.Client) OTPRepository {
	if client == nil {
		return nil
	}
	return &redisOTPRepository{client: client, prefix: "otp:code:"}
}

func (r *redisOTPRepository) Put(ctx context.Context, otp domain.OTP) error {
	return redisSetJSON(ctx, r.client, r.prefix+otp.Scope, otp, time.Until(otp.ExpiresAt))
}

func (r *redisOTPRepository) Get(ctx context.Context, scope string) (domain.OTP, error) {
	var otp domain.OTP
	if err := redisGetJSON(ctx, r.client, r.prefix+scope, &otp); err != nil {
		return domain.OTP{}, err
	}
	return otp, nil
}

func (r *redisOTPRepository) Delete(ctx context.Context, scope string) error {
	return redisDel(ctx, r.client, r.prefix+scope)
}

// PgOTPRepository usa la tabla otp_codes con scope como clave primaria.
type PgOTPRepository struct {
	pool pgQuerier
}

func NewPgOTPRepository(pool *pgxpool.Pool) *PgOTPRepository {
	return &PgOTPRepository{pool: pool}
}

func (r *PgOTPRepository) Put(ctx context.Context, otp domain.OTP) error {
	const query = `
		INSERT INTO otp_codes (scope, channel, identifier, code_hash, purpose, attempts, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (scope) DO UPDATE
		SET channel = EXCLUDED.channel, identifier = EXCLUDED.identifier, code_hash = EXCLUDED.code_hash,
		    purpose = EXCLUDED.purpose, attempts = EXCLUDED.attempts, expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at
	`
	_, err := r.pool.Exec(ctx, query,
		otp.Scope,
		string(otp.Channel),
		otp.Identifier,
		otp.CodeHash,
		string(otp.Purpose),
		otp.Attempts,
		otp.ExpiresAt,
		otp.CreatedAt,
	)
	return classifyPgError(err)
}

func (r *PgOTPRepository) Get(ctx context.Context, scope string) (domain.OTP, error) {
	const query = `
		SELECT scope, channel, identifier, code_hash, purpose, attempts, expires_at, created_at
		FROM otp_codes
		WHERE scope = $1
	`
	var (
		otp              domain.OTP
		channel, purpose string
	)
	err := r.pool.QueryRow(ctx, query, scope).Scan(
		&otp.Scope,
		&channel,
		&otp.Identifier,
		&otp.CodeHash,
		&purpose,
		&otp.Attempts,
		&otp.ExpiresAt,
		&otp.CreatedAt,
	)
	if err != nil {
		return domain.OTP{}, classifyPgError(err)
	}
	otp.Channel = domain.Channel(channel)
	otp.Purpose = domain.OTPPurpose(purpose)
	return otp, nil
}

func (r *PgOTPRepository) Delete(ctx context.Context, scope string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM otp_codes WHERE scope = $1`, scope)
	return classifyPgError(err)
}

// FileOTPRepository guarda los codigos en un arreglo JSON; los vencidos se purgan en cada escritura.
type FileOTPRepository struct {
	coll *filestore.Collection[domain.OTP]
}

func NewFileOTPRepository(path string) (*FileOTPRepository, error) {
	coll, err := filestore.NewCollection[domain.OTP](path)
	if err != nil {
		return nil, err
	}
	return &FileOTPRepository{coll: coll}, nil
}

func (r *FileOTPRepository) Put(ctx context.Context, otp domain.OTP) error {
	now := time.Now().UTC()
	return r.coll.Update(ctx, func(items []domain.OTP) ([]domain.OTP, error) {
		out := make([]domain.OTP, 0, len(items)+1)
		for _, it := range items {
			if it.Scope == otp.Scope || it.Expired(now) {
				continue
			}
			out = append(out, it)
		}
		return append(out, otp), nil
	})
}

func (r *FileOTPRepository) Get(ctx context.Context, scope string) (domain.OTP, error) {
	items, err := r.coll.Load(ctx)
	if err != nil {
		return domain.OTP{}, err
	}
	for _, it := range items {
		if it.Scope == scope {
			return it, nil
		}
	}
	return domain.OTP{}, domain.ErrNotFound
}

func (r *FileOTPRepository) Delete(ctx context.Context, scope string) error {
	return r.coll.Update(ctx, func(items []domain.OTP) ([]domain.OTP, error) {
		out := items[:0]
		for _, it := range items {
			if it.Scope != scope {
				out = append(out, it)
			}
		}
		return out, nil
	})
}
