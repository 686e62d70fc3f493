package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"socialauth/internal/domain"
)

// MirrorRepository es un UserRepository que ademas acepta escrituras espejo por id.
type MirrorRepository interface {
	UserRepository
	Put(ctx context.Context, user domain.User) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

const defaultStoreTimeout = 2 * time.Second

// CredentialStore es la unica fachada de persistencia de usuarios que ven los servicios.
//
// Con un primario configurado (relacional) toda lectura y escritura va primero a el,
// con timeout; si no responde, la llamada la atiende el archivo. Las escrituras exitosas
// en el primario se copian al archivo sin transaccion: el espejo puede quedar atrasado y
// nunca se lee mientras el primario responde.
type CredentialStore struct {
	logger   *zap.Logger
	primary  UserRepository
	fallback MirrorRepository
	timeout  time.Duration
}

// NewCredentialStore arma la fachada. primary puede ser nil cuando no hay base configurada.
func NewCredentialStore(logger *zap.Logger, primary UserRepository, fallback MirrorRepository, timeout time.Duration) *CredentialStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &CredentialStore{
		logger:   logger,
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
	}
}

// HasPrimary reporta si hay un store relacional configurado.
func (s *CredentialStore) HasPrimary() bool {
	return s.primary != nil
}

// Ping verifica el primario; sin primario no hay nada que verificar.
func (s *CredentialStore) Ping(ctx context.Context) error {
	p, ok := s.primary.(pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return p.Ping(ctx)
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.read(ctx, "find_by_email", func(ctx context.Context, r UserRepository) (domain.User, error) {
		return r.FindByEmail(ctx, email)
	})
}

func (s *CredentialStore) FindByPhone(ctx context.Context, phone string) (domain.User, error) {
	return s.read(ctx, "find_by_phone", func(ctx context.Context, r UserRepository) (domain.User, error) {
		return r.FindByPhone(ctx, phone)
	})
}

func (s *CredentialStore) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.read(ctx, "find_by_username", func(ctx context.Context, r UserRepository) (domain.User, error) {
		return r.FindByUsername(ctx, username)
	})
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (domain.User, error) {
	return s.read(ctx, "find_by_id", func(ctx context.Context, r UserRepository) (domain.User, error) {
		return r.FindByID(ctx, id)
	})
}

func (s *CredentialStore) Create(ctx context.Context, user domain.User) error {
	_, err := s.write(ctx, "create", func(ctx context.Context, r UserRepository) (domain.User, error) {
		return user, r.Create(ctx, user)
	})
	return err
}

func (s *CredentialStore) Update(ctx context.Context, user domain.User) error {
	_, err := s.write(ctx, "update", func(ctx context.Context, r UserRepository) (domain.User, error) {
		return user, r.Update(ctx, user)
	})
	return err
}

func (s *CredentialStore) UpsertByUsername(ctx context.Context, user domain.User) (domain.User, error) {
	return s.write(ctx, "upsert_by_username", func(ctx context.Context, r UserRepository) (domain.User, error) {
		return r.UpsertByUsername(ctx, user)
	})
}

// UsernameAvailable consulta ambos adaptadores: el username esta tomado si cualquiera lo tiene.
func (s *CredentialStore) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if s.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err := s.primary.FindByUsername(pctx, username)
		cancel()
		switch {
		case err == nil:
			return false, nil
		case errIsNotFound(err):
		case s.shouldFallback(ctx, err):
			s.logger.Warn("primary store unavailable, using file store", zap.String("op", "username_available"), zap.Error(err))
		default:
			return false, err
		}
	}
	_, err := s.fallback.FindByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if errIsNotFound(err) {
		return true, nil
	}
	return false, err
}

func (s *CredentialStore) read(ctx context.Context, op string, fn func(context.Context, UserRepository) (domain.User, error)) (domain.User, error) {
	if s.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		u, err := fn(pctx, s.primary)
		cancel()
		if !s.shouldFallback(ctx, err) {
			return u, err
		}
		s.logger.Warn("primary store unavailable, using file store", zap.String("op", op), zap.Error(err))
	}
	return fn(ctx, s.fallback)
}

func (s *CredentialStore) write(ctx context.Context, op string, fn func(context.Context, UserRepository) (domain.User, error)) (domain.User, error) {
	if s.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		u, err := fn(pctx, s.primary)
		cancel()
		if err == nil {
			s.mirror(ctx, op, u)
			return u, nil
		}
		if !s.shouldFallback(ctx, err) {
			return domain.User{}, err
		}
		s.logger.Warn("primary store unavailable, writing to file store", zap.String("op", op), zap.Error(err))
	}
	return fn(ctx, s.fallback)
}

func (s *CredentialStore) mirror(ctx context.Context, op string, user domain.User) {
	if err := s.fallback.Put(context.WithoutCancel(ctx), user); err != nil {
		s.logger.Warn("file mirror write failed",
			zap.String("op", op),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
}

// shouldFallback decide si un error del primario se atiende con el archivo. Un contexto
// del llamador ya cancelado nunca cae al archivo.
func (s *CredentialStore) shouldFallback(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
