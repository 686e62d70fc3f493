package repository

import (
	"context"
	"fmt"
	"strings"

	"socialauth/internal/domain"
	"socialauth/internal/filestore"
)

// FileUserRepository guarda todos los usuarios como un arreglo JSON en un archivo.
// El archivo no ofrece restricciones, asi que la unicidad se valida aca dentro del
// mismo ciclo leer-modificar-escribir.
type FileUserRepository struct {
	coll *filestore.Collection[domain.StoredUser]
}

func NewFileUserRepository(path string) (*FileUserRepository, error) {
	coll, err := filestore.NewCollection[domain.StoredUser](path)
	if err != nil {
		return nil, err
	}
	return &FileUserRepository{coll: coll}, nil
}

func (r *FileUserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.view(ctx, func(tx *sliceUserRepo) (domain.User, error) { return tx.FindByEmail(ctx, email) })
}

func (r *FileUserRepository) FindByPhone(ctx context.Context, phone string) (domain.User, error) {
	return r.view(ctx, func(tx *sliceUserRepo) (domain.User, error) { return tx.FindByPhone(ctx, phone) })
}

func (r *FileUserRepository) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.view(ctx, func(tx *sliceUserRepo) (domain.User, error) { return tx.FindByUsername(ctx, username) })
}

func (r *FileUserRepository) FindByID(ctx context.Context, id string) (domain.User, error) {
	return r.view(ctx, func(tx *sliceUserRepo) (domain.User, error) { return tx.FindByID(ctx, id) })
}

func (r *FileUserRepository) Create(ctx context.Context, user domain.User) error {
	return r.mutate(ctx, func(tx *sliceUserRepo) error { return tx.Create(ctx, user) })
}

func (r *FileUserRepository) Update(ctx context.Context, user domain.User) error {
	return r.mutate(ctx, func(tx *sliceUserRepo) error { return tx.Update(ctx, user) })
}

// UpsertByUsername corre la lectura y la escritura bajo el mismo lock del archivo.
func (r *FileUserRepository) UpsertByUsername(ctx context.Context, user domain.User) (domain.User, error) {
	var result domain.User
	err := r.mutate(ctx, func(tx *sliceUserRepo) error {
		u, err := upsertByUsername(ctx, tx, user)
		result = u
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return result, nil
}

// Put reemplaza el registro con el mismo id, o lo agrega, descartando filas viejas que
// choquen en email, telefono o username. Lo usa el espejo best-effort del store
// relacional, que es la fuente de verdad.
func (r *FileUserRepository) Put(ctx context.Context, user domain.User) error {
	if err := validateRecord(user); err != nil {
		return err
	}
	user.Username = strings.ToLower(user.Username)
	return r.coll.Update(ctx, func(items []domain.StoredUser) ([]domain.StoredUser, error) {
		out := make([]domain.StoredUser, 0, len(items)+1)
		replaced := false
		for _, existing := range items {
			switch {
			case existing.ID == user.ID:
				out = append(out, domain.StoredUser(user))
				replaced = true
			case collision(domain.User(existing), user) != "":
			default:
				out = append(out, existing)
			}
		}
		if !replaced {
			out = append(out, domain.StoredUser(user))
		}
		return out, nil
	})
}

func (r *FileUserRepository) view(ctx context.Context, fn func(tx *sliceUserRepo) (domain.User, error)) (domain.User, error) {
	items, err := r.coll.Load(ctx)
	if err != nil {
		return domain.User{}, err
	}
	return fn(&sliceUserRepo{items: items})
}

func (r *FileUserRepository) mutate(ctx context.Context, fn func(tx *sliceUserRepo) error) error {
	return r.coll.Update(ctx, func(items []domain.StoredUser) ([]domain.StoredUser, error) {
		tx := &sliceUserRepo{items: items}
		if err := fn(tx); err != nil {
			return nil, err
		}
		return tx.items, nil
	})
}

// collision devuelve el campo unico que a y b comparten, o "" si no hay choque.
func collision(a, b domain.User) string {
	switch {
	case a.Email != "" && strings.EqualFold(a.Email, b.Email):
		return "email"
	case a.Phone != "" && a.Phone == b.Phone:
		return "phone"
	case a.Username != "" && strings.EqualFold(a.Username, b.Username):
		return "username"
	}
	return ""
}

// sliceUserRepo implementa UserRepository sobre el arreglo cargado del archivo; vive
// solo dentro de un ciclo de lectura o escritura de FileUserRepository.
type sliceUserRepo struct {
	items []domain.StoredUser
}

func (s *sliceUserRepo) find(match func(domain.StoredUser) bool) (domain.User, error) {
	for _, u := range s.items {
		if match(u) {
			return domain.User(u), nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *sliceUserRepo) FindByEmail(_ context.Context, email string) (domain.User, error) {
	return s.find(func(u domain.StoredUser) bool { return email != "" && strings.EqualFold(u.Email, email) })
}

func (s *sliceUserRepo) FindByPhone(_ context.Context, phone string) (domain.User, error) {
	return s.find(func(u domain.StoredUser) bool { return phone != "" && u.Phone == phone })
}

func (s *sliceUserRepo) FindByUsername(_ context.Context, username string) (domain.User, error) {
	return s.find(func(u domain.StoredUser) bool { return username != "" && strings.EqualFold(u.Username, username) })
}

func (s *sliceUserRepo) FindByID(_ context.Context, id string) (domain.User, error) {
	return s.find(func(u domain.StoredUser) bool { return id != "" && u.ID == id })
}

func (s *sliceUserRepo) Create(_ context.Context, user domain.User) error {
	if err := validateRecord(user); err != nil {
		return err
	}
	user.Username = strings.ToLower(user.Username)
	for _, existing := range s.items {
		if existing.ID == user.ID {
			return fmt.Errorf("%w: id", domain.ErrConflict)
		}
		if field := collision(domain.User(existing), user); field != "" {
			return fmt.Errorf("%w: %s", domain.ErrConflict, field)
		}
	}
	s.items = append(s.items, domain.StoredUser(user))
	return nil
}

func (s *sliceUserRepo) Update(_ context.Context, user domain.User) error {
	if err := validateRecord(user); err != nil {
		return err
	}
	user.Username = strings.ToLower(user.Username)
	idx := -1
	for i, existing := range s.items {
		if existing.ID == user.ID {
			idx = i
			continue
		}
		if field := collision(domain.User(existing), user); field != "" {
			return fmt.Errorf("%w: %s", domain.ErrConflict, field)
		}
	}
	if idx < 0 {
		return domain.ErrNotFound
	}
	s.items[idx] = domain.StoredUser(user)
	return nil
}

func (s *sliceUserRepo) UpsertByUsername(ctx context.Context, user domain.User) (domain.User, error) {
	return upsertByUsername(ctx, s, user)
}
