package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialauth/internal/config"
	"socialauth/internal/db"
	"socialauth/internal/domain"
	"socialauth/internal/email"
	apihttp "socialauth/internal/http"
	"socialauth/internal/logging"
	"socialauth/internal/repository"
	"socialauth/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Development: !cfg.IsProduction()})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Postgres es opcional: sin DATABASE_URL o sin conexion se sirve todo desde archivos.
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg)
		if err == nil {
			err = db.Ping(ctx, pool)
		}
		if err != nil {
			logger.Warn("postgres unavailable, using file store", zap.Error(err))
			if pool != nil {
				pool.Close()
				pool = nil
			}
		} else {
			defer pool.Close()
			if cfg.DBMigrate {
				if err := db.Migrate(ctx, pool, logger); err != nil {
					logger.Fatal("db migrate", zap.Error(err))
				}
			}
		}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
		cancel()
	}

	fileUsers, err := repository.NewFileUserRepository(cfg.FilePath(cfg.UsersFile, "users.json"))
	if err != nil {
		logger.Fatal("file user store", zap.Error(err))
	}
	var primary repository.UserRepository
	if pool != nil {
		primary = repository.NewPgUserRepository(pool)
	}
	users := repository.NewCredentialStore(logger, primary, fileUsers, cfg.StoreTimeout)

	otpStore, refreshStore, err := buildTokenStores(cfg, pool, redisClient)
	if err != nil {
		logger.Fatal("token stores", zap.Error(err))
	}

	var otpLimiter service.OTPRateLimiter = service.NewOTPRateLimiter(cfg.OTPRateWindow, cfg.OTPRateMax)
	if redisClient != nil {
		otpLimiter = service.NewRedisOTPRateLimiter(redisClient, cfg.OTPRateWindow, cfg.OTPRateMax)
	}

	bypass := cfg.DevBypassCode()
	if bypass != "" {
		logger.Warn("otp dev bypass code enabled", zap.String("app_env", cfg.AppEnv))
	}

	hasher := service.NewPasswordHasher(cfg.BcryptCost)
	tokens := service.NewTokenService(cfg.JWTSecret, refreshStore, service.TokenOptions{
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Rotate:     cfg.RefreshRotate,
	})
	otpSvc := service.NewOTPService(otpStore, otpLimiter, service.OTPOptions{
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		BypassCode:  bypass,
	})
	senders := map[domain.Channel]email.Sender{
		domain.ChannelEmail: buildEmailSender(cfg, logger),
		domain.ChannelPhone: buildPhoneSender(cfg, logger),
	}
	authSvc := service.NewAuthService(logger, users, hasher, tokens, otpSvc, senders, service.AuthOptions{
		TwoFactor:       cfg.TwoFactor,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})

	cookie := apihttp.CookieConfig{Name: cfg.CookieName, Domain: cfg.CookieDomain, Secure: cfg.CookieSecure}
	router := apihttp.NewRouter(logger,
		apihttp.NewAuthHandler(logger, authSvc, cookie),
		apihttp.NewHealthHandler(logger, users),
		apihttp.SessionAuthMiddleware(authSvc, cfg.CookieName),
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.HTTPPort),
			zap.Bool("primary_store", users.HasPrimary()),
			zap.Bool("redis", redisClient != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	authSvc.Drain()
}

// buildTokenStores elige redis, luego postgres, luego archivo para OTP y refresh tokens.
func buildTokenStores(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (repository.OTPRepository, repository.RefreshTokenStore, error) {
	switch {
	case redisClient != nil:
		return repository.NewRedisOTPRepository(redisClient), repository.NewRedisRefreshTokenStore(redisClient), nil
	case pool != nil:
		return repository.NewPgOTPRepository(pool), repository.NewPgRefreshTokenStore(pool), nil
	}
	otpStore, err := repository.NewFileOTPRepository(cfg.FilePath(cfg.OTPFile, "otp_codes.json"))
	if err != nil {
		return nil, nil, err
	}
	refreshStore, err := repository.NewFileRefreshTokenStore(cfg.FilePath(cfg.RefreshFile, "refresh_tokens.json"))
	if err != nil {
		return nil, nil, err
	}
	return otpStore, refreshStore, nil
}

// buildPhoneSender: no hay proveedor SMS; fuera de produccion los codigos van al log y
// en produccion el canal queda deshabilitado, asi ningun codigo termina en los logs.
func buildPhoneSender(cfg *config.Config, logger *zap.Logger) email.Sender {
	if cfg.IsProduction() {
		logger.Warn("sms sender not configured, phone delivery disabled")
		return email.NewDisabledSender("sms sender not configured")
	}
	return email.NewLogSender(logger, string(domain.ChannelPhone))
}

// buildEmailSender prefiere Postmark, luego SMTP; sin ninguno, en desarrollo los codigos
// van al log y en produccion el envio queda deshabilitado.
func buildEmailSender(cfg *config.Config, logger *zap.Logger) email.Sender {
	if cfg.PostmarkServerToken != "" {
		sender, err := email.NewPostmarkSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.PostmarkFrom)
		if err == nil {
			return sender
		}
		logger.Warn("postmark sender init failed", zap.Error(err))
	}
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err == nil {
			return sender
		}
		logger.Warn("smtp sender init failed", zap.Error(err))
	}
	if !cfg.IsProduction() {
		return email.NewLogSender(logger, string(domain.ChannelEmail))
	}
	return email.NewDisabledSender("email sender not configured")
}
