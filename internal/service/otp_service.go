package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"socialauth/internal/domain"
	"socialauth/internal/repository"
)

const (
	defaultOTPTTL         = 5 * time.Minute
	defaultOTPMaxAttempts = 5
	otpDigits             = 6
)

// IssuedOTP es lo que el controlador necesita para entregar un codigo recien emitido.
type IssuedOTP struct {
	Code              string
	Channel           domain.Channel
	Destination       string
	MaskedDestination string
	ExpiresAt         time.Time
	ExpiresInSec      int64
}

type OTPOptions struct {
	TTL         time.Duration
	MaxAttempts int
	// BypassCode solo debe llegar aqui fuera de produccion (ver config.DevBypassCode).
	BypassCode string
}

// OTPService emite y valida codigos de un solo uso por (canal, identificador). No entrega
// los codigos: eso lo hace el controlador.
type OTPService struct {
	store       repository.OTPRepository
	limiter     OTPRateLimiter
	ttl         time.Duration
	maxAttempts int
	bypassCode  string
	now         func() time.Time

	// verifyMu serializa lectura y consumo para que un codigo no se acepte dos veces.
	verifyMu sync.Mutex
}

func NewOTPService(store repository.OTPRepository, limiter OTPRateLimiter, opts OTPOptions) *OTPService {
	if store == nil {
		store = repository.NewMemoryOTPRepository()
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultOTPTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultOTPMaxAttempts
	}
	return &OTPService{
		store:       store,
		limiter:     limiter,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		bypassCode:  strings.TrimSpace(opts.BypassCode),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// TTL es la vida de un codigo recien emitido.
func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

// Request emite un codigo nuevo y reemplaza cualquier codigo previo del mismo scope.
func (s *OTPService) Request(ctx context.Context, channel domain.Channel, identifier string, purpose domain.OTPPurpose) (IssuedOTP, error) {
	normalized, err := NormalizeIdentifier(channel, identifier)
	if err != nil {
		return IssuedOTP{}, err
	}
	scope := otpScope(channel, normalized)
	if s.limiter != nil && !s.limiter.Allow(ctx, scope) {
		return IssuedOTP{}, ErrRateLimited
	}

	code, hash, err := generateOTP()
	if err != nil {
		return IssuedOTP{}, err
	}
	now := s.now()
	record := domain.OTP{
		Scope:      scope,
		Channel:    channel,
		Identifier: normalized,
		CodeHash:   hash,
		Purpose:    purpose,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
	}
	if err := s.store.Put(ctx, record); err != nil {
		return IssuedOTP{}, fmt.Errorf("store otp: %w", err)
	}
	return IssuedOTP{
		Code:              code,
		Channel:           channel,
		Destination:       normalized,
		MaskedDestination: MaskDestination(channel, normalized),
		ExpiresAt:         record.ExpiresAt,
		ExpiresInSec:      int64(s.ttl.Seconds()),
	}, nil
}

// Verify consume el codigo si coincide y su proposito esta entre los permitidos.
func (s *OTPService) Verify(ctx context.Context, channel domain.Channel, identifier, code string, purposes ...domain.OTPPurpose) (domain.OTP, error) {
	normalized, err := NormalizeIdentifier(channel, identifier)
	if err != nil {
		return domain.OTP{}, err
	}
	scope := otpScope(channel, normalized)
	code = strings.TrimSpace(code)

	s.verifyMu.Lock()
	defer s.verifyMu.Unlock()

	record, err := s.store.Get(ctx, scope)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OTP{}, ErrOTPNotRequested
		}
		return domain.OTP{}, err
	}
	if record.Expired(s.now()) {
		if err := s.store.Delete(ctx, scope); err != nil {
			return domain.OTP{}, err
		}
		return domain.OTP{}, ErrOTPExpired
	}
	if len(purposes) > 0 && !slices.Contains(purposes, record.Purpose) {
		return domain.OTP{}, ErrOTPInvalid
	}

	if s.matches(code, record.CodeHash) {
		if err := s.store.Delete(ctx, scope); err != nil {
			return domain.OTP{}, fmt.Errorf("consume otp: %w", err)
		}
		return record, nil
	}

	record.Attempts++
	if record.Attempts >= s.maxAttempts {
		if err := s.store.Delete(ctx, scope); err != nil {
			return domain.OTP{}, err
		}
	} else if err := s.store.Put(ctx, record); err != nil {
		return domain.OTP{}, err
	}
	return domain.OTP{}, ErrOTPInvalid
}

func (s *OTPService) matches(code, stored string) bool {
	if s.bypassCode != "" && subtle.ConstantTimeCompare([]byte(code), []byte(s.bypassCode)) == 1 {
		return true
	}
	return isValidOTPCode(code) && verifyOTP(code, stored)
}

// NormalizeIdentifier: email en minusculas sin espacios, telefono solo digitos.
func NormalizeIdentifier(channel domain.Channel, identifier string) (string, error) {
	switch channel {
	case domain.ChannelEmail:
		email := normalizeEmail(identifier)
		if !looksLikeEmail(email) {
			return "", fmt.Errorf("%w: invalid email", ErrValidation)
		}
		return email, nil
	case domain.ChannelPhone:
		digits := phoneDigits(identifier)
		if len(digits) < 7 || len(digits) > 15 {
			return "", fmt.Errorf("%w: invalid phone", ErrValidation)
		}
		return digits, nil
	default:
		return "", fmt.Errorf("%w: unknown channel %q", ErrValidation, channel)
	}
}

func otpScope(channel domain.Channel, normalized string) string {
	return string(channel) + ":" + normalized
}

// MaskDestination oculta casi todo el destino: u***@example.com, ***1234.
func MaskDestination(channel domain.Channel, normalized string) string {
	if channel == domain.ChannelPhone {
		if len(normalized) <= 4 {
			return "***"
		}
		return "***" + normalized[len(normalized)-4:]
	}
	local, domainPart, ok := strings.Cut(normalized, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domainPart
}

func generateOTP() (string, string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", "", err
	}
	code := fmt.Sprintf("%0*d", otpDigits, n.Int64())

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	saltStr := base64.StdEncoding.EncodeToString(salt)
	return code, saltStr + ":" + hashOTP(saltStr, code), nil
}

func hashOTP(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + ":" + code))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func verifyOTP(code, stored string) bool {
	salt, expected, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hashOTP(salt, code)), []byte(expected)) == 1
}

func isValidOTPCode(code string) bool {
	if len(code) != otpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func looksLikeEmail(email string) bool {
	local, domainPart, ok := strings.Cut(email, "@")
	if !ok || local == "" || domainPart == "" || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	return !strings.Contains(domainPart, "@")
}

func phoneDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
