package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"socialauth/internal/domain"
)

// UserRepository define el contrato de persistencia para credenciales e identidades.
// Todas las implementaciones devuelven domain.ErrNotFound y domain.ErrConflict con la
// misma semantica.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByPhone(ctx context.Context, phone string) (domain.User, error)
	FindByUsername(ctx context.Context, username string) (domain.User, error)
	FindByID(ctx context.Context, id string) (domain.User, error)
	Create(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	UpsertByUsername(ctx context.Context, user domain.User) (domain.User, error)
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool pgQuerier
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, email, phone, username, display_name, password_hash, active, avatar_url, created_at, updated_at`

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PgUserRepository) FindByPhone(ctx context.Context, phone string) (domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (r *PgUserRepository) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username)
}

func (r *PgUserRepository) FindByID(ctx context.Context, id string) (domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	if err := validateRecord(user); err != nil {
		return err
	}
	const query = `
		INSERT INTO users (id, email, phone, username, display_name, password_hash, active, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		nullable(user.Email),
		nullable(user.Phone),
		nullable(strings.ToLower(user.Username)),
		user.DisplayName,
		user.PasswordHash,
		user.Active,
		user.AvatarURL,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return classifyPgError(err)
}

func (r *PgUserRepository) Update(ctx context.Context, user domain.User) error {
	if err := validateRecord(user); err != nil {
		return err
	}
	const query = `
		UPDATE users
		SET email = $2, phone = $3, username = $4, display_name = $5, password_hash = $6,
		    active = $7, avatar_url = $8, updated_at = $9
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		user.ID,
		nullable(user.Email),
		nullable(user.Phone),
		nullable(strings.ToLower(user.Username)),
		user.DisplayName,
		user.PasswordHash,
		user.Active,
		user.AvatarURL,
		user.UpdatedAt,
	)
	if err != nil {
		return classifyPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertByUsername actualiza el registro dueño del username o lo crea. Las restricciones
// unicas de la tabla resuelven carreras entre la lectura y la escritura.
func (r *PgUserRepository) UpsertByUsername(ctx context.Context, user domain.User) (domain.User, error) {
	return upsertByUsername(ctx, r, user)
}

// Ping verifica conectividad con la base de datos.
func (r *PgUserRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PgUserRepository) findOne(ctx context.Context, query string, arg string) (domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		return domain.User{}, classifyPgError(err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u                      domain.User
		email, phone, username *string
	)
	err := row.Scan(
		&u.ID,
		&email,
		&phone,
		&username,
		&u.DisplayName,
		&u.PasswordHash,
		&u.Active,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Email = deref(email)
	u.Phone = deref(phone)
	u.Username = deref(username)
	return u, nil
}

func validateRecord(user domain.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("%w: missing id", domain.ErrInvalidRecord)
	}
	if !user.HasIdentifier() {
		return fmt.Errorf("%w: email or phone required", domain.ErrInvalidRecord)
	}
	return nil
}

// upsertByUsername es la semantica compartida por los adaptadores que no pueden hacerlo
// en una sola operacion atomica.
func upsertByUsername(ctx context.Context, repo UserRepository, user domain.User) (domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return domain.User{}, fmt.Errorf("%w: username required", domain.ErrInvalidRecord)
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}

	existing, err := repo.FindByUsername(ctx, user.Username)
	switch {
	case err == nil:
		if user.ID != "" && user.ID != existing.ID {
			return domain.User{}, fmt.Errorf("%w: username", domain.ErrConflict)
		}
		merged := mergeProfile(existing, user)
		if err := repo.Update(ctx, merged); err != nil {
			return domain.User{}, err
		}
		return merged, nil
	case errIsNotFound(err):
	default:
		return domain.User{}, err
	}

	if user.ID != "" {
		current, err := repo.FindByID(ctx, user.ID)
		if err == nil {
			merged := mergeProfile(current, user)
			if err := repo.Update(ctx, merged); err != nil {
				return domain.User{}, err
			}
			return merged, nil
		}
		if !errIsNotFound(err) {
			return domain.User{}, err
		}
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = user.UpdatedAt
	}
	if err := repo.Create(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// mergeProfile aplica sobre base los campos no vacios de patch.
func mergeProfile(base, patch domain.User) domain.User {
	out := base
	out.Username = patch.Username
	if patch.Email != "" {
		out.Email = patch.Email
	}
	if patch.Phone != "" {
		out.Phone = patch.Phone
	}
	if patch.DisplayName != "" {
		out.DisplayName = patch.DisplayName
	}
	if patch.AvatarURL != "" {
		out.AvatarURL = patch.AvatarURL
	}
	if patch.PasswordHash != "" {
		out.PasswordHash = patch.PasswordHash
	}
	if patch.Active {
		out.Active = true
	}
	out.UpdatedAt = patch.UpdatedAt
	return out
}
