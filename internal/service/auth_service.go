package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"socialauth/internal/domain"
	"socialauth/internal/email"
	"socialauth/internal/repository"
)

// UserStore es lo que el controlador necesita del almacenamiento de credenciales.
type UserStore interface {
	repository.UserRepository
	UsernameAvailable(ctx context.Context, username string) (bool, error)
}

type AuthOptions struct {
	TwoFactor       bool
	DeliveryTimeout time.Duration
}

// AuthService orquesta signup, login, OTP, reset y refresh. Es el unico componente que
// ven los handlers.
type AuthService struct {
	logger          *zap.Logger
	users           UserStore
	hasher          *PasswordHasher
	tokens          *TokenService
	otp             *OTPService
	senders         map[domain.Channel]email.Sender
	twoFactor       bool
	deliveryTimeout time.Duration
	now             func() time.Time

	deliveries sync.WaitGroup
}

func NewAuthService(logger *zap.Logger, users UserStore, hasher *PasswordHasher, tokens *TokenService, otp *OTPService, senders map[domain.Channel]email.Sender, opts AuthOptions) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	return &AuthService{
		logger:          logger,
		users:           users,
		hasher:          hasher,
		tokens:          tokens,
		otp:             otp,
		senders:         senders,
		twoFactor:       opts.TwoFactor,
		deliveryTimeout: opts.DeliveryTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

type SignupInput struct {
	Channel     domain.Channel
	Identifier  string
	Password    string
	DisplayName string
	Username    string
}

// OTPChallenge describe un codigo enviado sin revelar el destino completo.
type OTPChallenge struct {
	MaskedDestination string `json:"maskedDestination"`
	ExpiresInSec      int64  `json:"expiresInSec"`
}

type Session struct {
	Token        string
	RefreshToken string
	ExpiresIn    int64
	User         domain.User
}

// LoginResult trae una sesion, o un desafio cuando el segundo factor esta activo.
type LoginResult struct {
	Session           *Session
	TwoFactorRequired bool
	Challenge         OTPChallenge
}

type VerifyResult struct {
	Purpose           domain.OTPPurpose
	VerificationToken string
}

type ProfileInput struct {
	DisplayName string
	Username    string
	AvatarURL   string
}

func (s *AuthService) Signup(ctx context.Context, input SignupInput) (OTPChallenge, error) {
	identifier, err := NormalizeIdentifier(input.Channel, input.Identifier)
	if err != nil {
		return OTPChallenge{}, err
	}
	username := strings.ToLower(strings.TrimSpace(input.Username))
	if username != "" {
		if err := validateUsername(username); err != nil {
			return OTPChallenge{}, err
		}
	}
	var passwordHash string
	if input.Password != "" {
		if passwordHash, err = s.hasher.Hash(input.Password); err != nil {
			return OTPChallenge{}, err
		}
	}

	if _, err := s.findByChannel(ctx, input.Channel, identifier); err == nil {
		return OTPChallenge{}, fmt.Errorf("%w: %s already registered", domain.ErrConflict, input.Channel)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return OTPChallenge{}, err
	}
	if username != "" {
		available, err := s.users.UsernameAvailable(ctx, username)
		if err != nil {
			return OTPChallenge{}, err
		}
		if !available {
			return OTPChallenge{}, fmt.Errorf("%w: username taken", domain.ErrConflict)
		}
	}

	now := s.now()
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	setContact(&user, input.Channel, identifier)

	// El codigo se emite antes de crear la cuenta: si el limite o el store de OTP fallan
	// no queda un usuario sin codigo que bloquee el reintento con 409.
	issued, err := s.otp.Request(ctx, input.Channel, identifier, domain.OTPPurposeSignup)
	if err != nil {
		return OTPChallenge{}, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return OTPChallenge{}, err
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID), zap.String("channel", string(input.Channel)))

	s.deliver(issued, domain.OTPPurposeSignup)
	return OTPChallenge{MaskedDestination: issued.MaskedDestination, ExpiresInSec: issued.ExpiresInSec}, nil
}

// RequestOTP emite un codigo de signup sin exigir que la cuenta exista (verificar antes de
// crear password).
func (s *AuthService) RequestOTP(ctx context.Context, channel domain.Channel, identifier string) (OTPChallenge, error) {
	return s.issueAndDeliver(ctx, channel, identifier, domain.OTPPurposeSignup)
}

func (s *AuthService) Login(ctx context.Context, identifier, password string) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	user, err := s.findByLoginIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.hasher.VerifyMissing(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if user.PasswordHash == "" {
		s.hasher.VerifyMissing(password)
		return LoginResult{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.Active {
		return LoginResult{}, ErrAccountNotVerified
	}
	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	if s.twoFactor {
		channel, destination := user.Contact()
		challenge, err := s.issueAndDeliver(ctx, channel, destination, domain.OTPPurposeLogin2FA)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{TwoFactorRequired: true, Challenge: challenge}, nil
	}

	session, err := s.startSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Session: &session}, nil
}

// CompleteLogin cierra el login de dos pasos con el codigo login_2fa.
func (s *AuthService) CompleteLogin(ctx context.Context, channel domain.Channel, identifier, code string) (Session, error) {
	record, err := s.otp.Verify(ctx, channel, identifier, code, domain.OTPPurposeLogin2FA)
	if err != nil {
		return Session{}, err
	}
	user, err := s.findByChannel(ctx, record.Channel, record.Identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !user.Active {
		return Session{}, ErrAccountNotVerified
	}
	return s.startSession(ctx, user)
}

// VerifyOTP valida codigos de signup o reset. Un codigo de signup activa la cuenta y
// ambos devuelven un ticket que habilita SetPassword. Los codigos login_2fa solo los
// acepta CompleteLogin, asi que aca no se consumen.
func (s *AuthService) VerifyOTP(ctx context.Context, channel domain.Channel, identifier, code string) (VerifyResult, error) {
	return s.verify(ctx, channel, identifier, code, domain.OTPPurposeSignup, domain.OTPPurposeReset)
}

// VerifySignup solo acepta codigos de signup.
func (s *AuthService) VerifySignup(ctx context.Context, channel domain.Channel, identifier, code string) (VerifyResult, error) {
	return s.verify(ctx, channel, identifier, code, domain.OTPPurposeSignup)
}

func (s *AuthService) verify(ctx context.Context, channel domain.Channel, identifier, code string, purposes ...domain.OTPPurpose) (VerifyResult, error) {
	record, err := s.otp.Verify(ctx, channel, identifier, code, purposes...)
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyResult{Purpose: record.Purpose}

	if record.Purpose == domain.OTPPurposeSignup {
		if err := s.activate(ctx, record.Channel, record.Identifier); err != nil {
			return VerifyResult{}, err
		}
	}
	if record.Purpose == domain.OTPPurposeSignup || record.Purpose == domain.OTPPurposeReset {
		ticket, err := s.tokens.SignTicket(Ticket{Channel: record.Channel, Identifier: record.Identifier, Purpose: record.Purpose})
		if err != nil {
			return VerifyResult{}, err
		}
		result.VerificationToken = ticket
	}
	return result, nil
}

func (s *AuthService) activate(ctx context.Context, channel domain.Channel, identifier string) error {
	user, err := s.findByChannel(ctx, channel, identifier)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.Active {
		return nil
	}
	user.Active = true
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.logger.Info("user activated", zap.String("user_id", user.ID))
	return nil
}

// Forgot siempre responde igual, exista o no la cuenta.
func (s *AuthService) Forgot(ctx context.Context, channel domain.Channel, identifier string) (OTPChallenge, error) {
	normalized, err := NormalizeIdentifier(channel, identifier)
	if err != nil {
		return OTPChallenge{}, err
	}
	challenge := OTPChallenge{
		MaskedDestination: MaskDestination(channel, normalized),
		ExpiresInSec:      int64(s.otp.TTL().Seconds()),
	}

	_, err = s.findByChannel(ctx, channel, normalized)
	if errors.Is(err, domain.ErrNotFound) {
		return challenge, nil
	}
	if err != nil {
		return OTPChallenge{}, err
	}
	if _, err := s.issueAndDeliver(ctx, channel, normalized, domain.OTPPurposeReset); err != nil {
		if errors.Is(err, ErrRateLimited) {
			s.logger.Warn("password reset rate limited", zap.String("to", challenge.MaskedDestination))
			return challenge, nil
		}
		return OTPChallenge{}, err
	}
	return challenge, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, channel domain.Channel, identifier, code, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	record, err := s.otp.Verify(ctx, channel, identifier, code, domain.OTPPurposeReset)
	if err != nil {
		return err
	}
	user, err := s.findByChannel(ctx, record.Channel, record.Identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	return s.storePassword(ctx, user, password)
}

// SetPassword requiere el ticket emitido por VerifyOTP para el mismo canal. Si la cuenta no
// existe la crea activa.
func (s *AuthService) SetPassword(ctx context.Context, channel domain.Channel, identifier, password, verificationToken string) (domain.User, error) {
	normalized, err := NormalizeIdentifier(channel, identifier)
	if err != nil {
		return domain.User{}, err
	}
	ticket, ok := s.tokens.VerifyTicket(verificationToken)
	if !ok || ticket.Channel != channel || ticket.Identifier != normalized {
		return domain.User{}, ErrTokenInvalid
	}
	if ticket.Purpose != domain.OTPPurposeSignup && ticket.Purpose != domain.OTPPurposeReset {
		return domain.User{}, ErrTokenInvalid
	}
	if err := validatePassword(password); err != nil {
		return domain.User{}, err
	}

	user, err := s.findByChannel(ctx, channel, normalized)
	if err == nil {
		if err := s.storePassword(ctx, user, password); err != nil {
			return domain.User{}, err
		}
		return s.users.FindByID(ctx, user.ID)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.User{}, err
	}
	now := s.now()
	user = domain.User{
		ID:           uuid.NewString(),
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	setContact(&user, channel, normalized)
	if err := s.users.Create(ctx, user); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user created with password", zap.String("user_id", user.ID))
	return user, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	return s.tokens.Refresh(ctx, refreshToken, func(ctx context.Context, userID string) (SessionClaims, error) {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return SessionClaims{}, ErrTokenInvalid
			}
			return SessionClaims{}, err
		}
		if !user.Active {
			return SessionClaims{}, ErrAccountNotVerified
		}
		return claimsForUser(user), nil
	})
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}

func (s *AuthService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if err := validateUsername(username); err != nil {
		return false, err
	}
	return s.users.UsernameAvailable(ctx, username)
}

func (s *AuthService) Me(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, ErrTokenInvalid
	}
	return user, err
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (domain.User, error) {
	current, err := s.Me(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	username := strings.ToLower(strings.TrimSpace(input.Username))
	if username != "" {
		if err := validateUsername(username); err != nil {
			return domain.User{}, err
		}
	} else {
		username = current.Username
	}
	patch := domain.User{
		ID:          current.ID,
		Username:    username,
		DisplayName: strings.TrimSpace(input.DisplayName),
		AvatarURL:   strings.TrimSpace(input.AvatarURL),
		UpdatedAt:   s.now(),
	}

	if username != "" {
		return s.users.UpsertByUsername(ctx, patch)
	}
	if patch.DisplayName != "" {
		current.DisplayName = patch.DisplayName
	}
	if patch.AvatarURL != "" {
		current.AvatarURL = patch.AvatarURL
	}
	current.UpdatedAt = patch.UpdatedAt
	if err := s.users.Update(ctx, current); err != nil {
		return domain.User{}, err
	}
	return current, nil
}

// VerifySession valida un token de sesion para el middleware HTTP.
func (s *AuthService) VerifySession(token string) (SessionClaims, bool) {
	return s.tokens.Verify(token)
}

// Drain espera a que terminen los envios en curso.
func (s *AuthService) Drain() {
	s.deliveries.Wait()
}

func (s *AuthService) startSession(ctx context.Context, user domain.User) (Session, error) {
	token, err := s.tokens.Sign(claimsForUser(user), 0)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:        token,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         user,
	}, nil
}

func (s *AuthService) storePassword(ctx context.Context, user domain.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.Active = true
	user.UpdatedAt = s.now()
	return s.users.Update(ctx, user)
}

func (s *AuthService) upgradeHash(ctx context.Context, user domain.User, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		user.PasswordHash = hash
		user.UpdatedAt = s.now()
		err = s.users.Update(ctx, user)
	}
	if err != nil {
		s.logger.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	s.logger.Info("password hash upgraded", zap.String("user_id", user.ID))
}

func (s *AuthService) issueAndDeliver(ctx context.Context, channel domain.Channel, identifier string, purpose domain.OTPPurpose) (OTPChallenge, error) {
	issued, err := s.otp.Request(ctx, channel, identifier, purpose)
	if err != nil {
		return OTPChallenge{}, err
	}
	s.deliver(issued, purpose)
	return OTPChallenge{MaskedDestination: issued.MaskedDestination, ExpiresInSec: issued.ExpiresInSec}, nil
}

// deliver envia en segundo plano; un fallo se registra pero no afecta la respuesta.
func (s *AuthService) deliver(issued IssuedOTP, purpose domain.OTPPurpose) {
	sender := s.senders[issued.Channel]
	if sender == nil {
		s.logger.Warn("no sender for channel", zap.String("channel", string(issued.Channel)))
		return
	}
	subject, body := otpMessage(purpose, issued)

	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.deliveryTimeout)
		defer cancel()
		if err := sender.Send(ctx, issued.Destination, subject, body); err != nil {
			s.logger.Warn("otp delivery failed",
				zap.String("channel", string(issued.Channel)),
				zap.String("to", issued.MaskedDestination),
				zap.Error(err),
			)
		}
	}()
}

func otpMessage(purpose domain.OTPPurpose, issued IssuedOTP) (string, string) {
	minutes := int(issued.ExpiresInSec / 60)
	switch purpose {
	case domain.OTPPurposeReset:
		return "Password reset code", fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.", issued.Code, minutes)
	case domain.OTPPurposeLogin2FA:
		return "Login code", fmt.Sprintf("Your login code is %s. It expires in %d minutes.", issued.Code, minutes)
	default:
		return "Verification code", fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", issued.Code, minutes)
	}
}

func (s *AuthService) findByChannel(ctx context.Context, channel domain.Channel, normalized string) (domain.User, error) {
	if channel == domain.ChannelPhone {
		return s.users.FindByPhone(ctx, normalized)
	}
	return s.users.FindByEmail(ctx, normalized)
}

// findByLoginIdentifier: con @ es email, con forma de telefono es telefono, si no username.
func (s *AuthService) findByLoginIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	switch {
	case strings.Contains(identifier, "@"):
		return s.users.FindByEmail(ctx, normalizeEmail(identifier))
	case looksLikePhone(identifier):
		return s.users.FindByPhone(ctx, phoneDigits(identifier))
	default:
		return s.users.FindByUsername(ctx, strings.ToLower(identifier))
	}
}

func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7
}

func setContact(user *domain.User, channel domain.Channel, normalized string) {
	if channel == domain.ChannelPhone {
		user.Phone = normalized
		return
	}
	user.Email = normalized
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 30 {
		return fmt.Errorf("%w: username must be 3-30 characters", ErrValidation)
	}
	for _, r := range username {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '.' {
			return fmt.Errorf("%w: username may only contain a-z, 0-9, '_' and '.'", ErrValidation)
		}
	}
	return nil
}
