package service

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

const (
	maxPasswordBytes = 72

	legacyScryptN = 16384
	legacyScryptR = 8
	legacyScryptP = 1
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// PasswordHasher genera hashes bcrypt y valida tambien el formato legado salt.hash (scrypt).
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = 12
	}
	return &PasswordHasher{cost: cost}
}

// Hash siempre produce el esquema moderno.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if err := validatePassword(password); err != nil {
		return "", err
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Verify nunca devuelve error: un hash mal formado equivale a password incorrecto.
func (h *PasswordHasher) Verify(password, stored string) bool {
	if password == "" || stored == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return verifyLegacy(password, stored)
}

// VerifyMissing hace el mismo trabajo bcrypt que Verify contra un hash descartable y
// siempre devuelve false. Se usa cuando la cuenta no existe, para que el tiempo de
// respuesta no delate si el identificador esta registrado.
func (h *PasswordHasher) VerifyMissing(password string) bool {
	h.dummyOnce.Do(func() {
		out, err := bcrypt.GenerateFromPassword([]byte("missing-account-placeholder"), h.cost)
		if err == nil {
			h.dummy = out
		}
	})
	if h.dummy != nil {
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
	}
	return false
}

// NeedsRehash reporta si el hash guardado no es del esquema actual.
func (h *PasswordHasher) NeedsRehash(stored string) bool {
	if !isBcryptHash(stored) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(stored))
	return err != nil || cost < h.cost
}

func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password exceeds %d bytes", ErrValidation, maxPasswordBytes)
	}
	return nil
}

func isBcryptHash(stored string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(stored, p) {
			return true
		}
	}
	return false
}

// verifyLegacy acepta la sal tal como esta escrita (texto) o decodificada.
func verifyLegacy(password, stored string) bool {
	saltPart, hashPart, ok := strings.Cut(stored, ".")
	if !ok || saltPart == "" || hashPart == "" || strings.Contains(hashPart, ".") {
		return false
	}
	expected, err := decodeBase64URL(hashPart)
	if err != nil || len(expected) == 0 {
		return false
	}
	if legacyMatch(password, []byte(saltPart), expected) {
		return true
	}
	salt, err := decodeBase64URL(saltPart)
	if err != nil || len(salt) == 0 {
		return false
	}
	return legacyMatch(password, salt, expected)
}

func legacyMatch(password string, salt, expected []byte) bool {
	derived, err := scrypt.Key([]byte(password), salt, legacyScryptN, legacyScryptR, legacyScryptP, len(expected))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, expected) == 1
}

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
