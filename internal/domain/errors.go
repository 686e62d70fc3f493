package domain

import "errors"

var (
	// ErrNotFound indica que el registro no existe.
	ErrNotFound = errors.New("not found")
	// ErrConflict indica que un identificador unico ya esta en uso.
	ErrConflict = errors.New("conflict")
	// ErrStoreUnavailable indica que el backend de persistencia no respondio.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ErrInvalidRecord indica que el registro no cumple los invariantes del modelo.
var ErrInvalidRecord = errors.New("invalid record")
