package repository

import (
	"errors"

	"socialauth/internal/domain"
)

func errIsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
