package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"socialauth/internal/domain"
	"socialauth/internal/repository"
)

const (
	tokenTypeAccess = "access"
	tokenTypeVerify = "verify"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	ticketTTL         = 10 * time.Minute
	refreshTokenBytes = 32
)

// SessionClaims son los datos firmados en el token de sesion.
type SessionClaims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Ticket prueba que el portador acaba de verificar un OTP para el canal indicado.
type Ticket struct {
	Channel    domain.Channel    `json:"ch"`
	Identifier string            `json:"idn"`
	Purpose    domain.OTPPurpose `json:"pur"`
}

type ticketClaims struct {
	Ticket
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshResult es el resultado de canjear un refresh token. RefreshToken queda vacio
// cuando la rotacion esta desactivada.
type RefreshResult struct {
	Token        string
	RefreshToken string
	ExpiresIn    int64
	UserID       string
}

// TokenService firma y valida tokens de sesion (HS256) y administra refresh tokens opacos.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	rotate     bool
	store      repository.RefreshTokenStore
	now        func() time.Time
}

type TokenOptions struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Rotate     bool
}

func NewTokenService(secret string, store repository.RefreshTokenStore, opts TokenOptions) *TokenService {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	if strings.TrimSpace(opts.Issuer) == "" {
		opts.Issuer = "socialauth"
	}
	if store == nil {
		store = repository.NewMemoryRefreshTokenStore()
	}
	return &TokenService{
		secret:     []byte(secret),
		issuer:     opts.Issuer,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		rotate:     opts.Rotate,
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// Sign emite un token de sesion; ttl <= 0 usa el TTL por defecto.
func (s *TokenService) Sign(claims SessionClaims, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrTokenInvalid
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	now := s.now()
	claims.TokenType = tokenTypeAccess
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify devuelve false ante cualquier falla: estructura, firma, algoritmo, expiracion o emisor.
func (s *TokenService) Verify(token string) (SessionClaims, bool) {
	var claims SessionClaims
	if !s.parse(token, &claims) {
		return SessionClaims{}, false
	}
	if claims.TokenType != tokenTypeAccess || claims.UserID == "" || claims.Subject != claims.UserID {
		return SessionClaims{}, false
	}
	return claims, true
}

func (s *TokenService) SignTicket(ticket Ticket) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrTokenInvalid
	}
	now := s.now()
	claims := ticketClaims{
		Ticket:    ticket,
		TokenType: tokenTypeVerify,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   string(ticket.Channel) + ":" + ticket.Identifier,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ticketTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *TokenService) VerifyTicket(token string) (Ticket, bool) {
	var claims ticketClaims
	if !s.parse(token, &claims) || claims.TokenType != tokenTypeVerify {
		return Ticket{}, false
	}
	return claims.Ticket, true
}

func (s *TokenService) parse(token string, claims jwt.Claims) bool {
	if len(s.secret) == 0 || strings.Count(token, ".") != 2 {
		return false
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	return err == nil
}

// IssueRefreshToken crea y persiste un refresh token opaco para el usuario.
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID string) (domain.RefreshToken, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.RefreshToken{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return domain.RefreshToken{}, err
	}
	now := s.now()
	token := domain.RefreshToken{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		UserID:    userID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.store.Save(ctx, token); err != nil {
		return domain.RefreshToken{}, fmt.Errorf("save refresh token: %w", err)
	}
	return token, nil
}

// Refresh canjea un refresh token. claimsFor resuelve el usuario dueño del token y
// devuelve error si ya no puede iniciar sesion.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string, claimsFor func(context.Context, string) (SessionClaims, error)) (RefreshResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return RefreshResult{}, ErrTokenInvalid
	}
	record, err := s.store.Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return RefreshResult{}, ErrTokenInvalid
		}
		return RefreshResult{}, err
	}
	if record.Expired(s.now()) {
		_ = s.store.Delete(ctx, refreshToken)
		return RefreshResult{}, fmt.Errorf("%w: refresh token expired", ErrTokenInvalid)
	}

	claims, err := claimsFor(ctx, record.UserID)
	if err != nil {
		return RefreshResult{}, err
	}
	// Con rotacion solo el llamador que consume el token emite uno nuevo.
	if s.rotate {
		if _, err := s.store.Consume(ctx, refreshToken); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return RefreshResult{}, fmt.Errorf("%w: refresh token already used", ErrTokenInvalid)
			}
			return RefreshResult{}, fmt.Errorf("consume refresh token: %w", err)
		}
	}
	access, err := s.Sign(claims, 0)
	if err != nil {
		return RefreshResult{}, err
	}
	result := RefreshResult{
		Token:     access,
		ExpiresIn: int64(s.accessTTL.Seconds()),
		UserID:    record.UserID,
	}
	if !s.rotate {
		return result, nil
	}
	next, err := s.IssueRefreshToken(ctx, record.UserID)
	if err != nil {
		return RefreshResult{}, err
	}
	result.RefreshToken = next.Token
	return result, nil
}

// Revoke elimina un refresh token; es idempotente.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	if err := s.store.Delete(ctx, refreshToken); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

func claimsForUser(user domain.User) SessionClaims {
	return SessionClaims{
		UserID: user.ID,
		Email:  user.Email,
		Phone:  user.Phone,
		Name:   user.DisplayName,
	}
}
