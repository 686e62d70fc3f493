package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const envProduction = "production"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`

	DatabaseURL  string        `env:"DATABASE_URL"`
	DBMigrate    bool          `env:"DB_MIGRATE" envDefault:"true"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
	DataDir      string        `env:"DATA_DIR" envDefault:"data"`
	UsersFile    string        `env:"USERS_FILE"`
	OTPFile      string        `env:"OTP_FILE"`
	RefreshFile  string        `env:"REFRESH_FILE"`

	JWTSecret      string        `env:"JWT_SECRET,required"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"socialauth"`
	JWTAccessTTL   time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL     time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
	RefreshRotate  bool          `env:"AUTH_REFRESH_ROTATE" envDefault:"true"`
	TwoFactor      bool          `env:"AUTH_TWO_FACTOR" envDefault:"false"`
	BcryptCost     int           `env:"PASSWORD_BCRYPT_COST" envDefault:"12"`
	OTPTTL         time.Duration `env:"OTP_TTL" envDefault:"5m"`
	OTPMaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	OTPBypassCode  string        `env:"OTP_DEV_BYPASS_CODE"`
	OTPRateWindow  time.Duration `env:"OTP_RATE_WINDOW" envDefault:"10m"`
	OTPRateMax     int           `env:"OTP_RATE_MAX" envDefault:"5"`

	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	PostmarkFrom         string `env:"POSTMARK_FROM"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	CookieName   string `env:"COOKIE_NAME" envDefault:"session"`
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reporta si APP_ENV es production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), envProduction)
}

// DevBypassCode devuelve el codigo OTP de desarrollo; siempre vacio en produccion.
func (c *Config) DevBypassCode() string {
	if c.IsProduction() {
		return ""
	}
	return strings.TrimSpace(c.OTPBypassCode)
}

// FilePath resuelve la ruta de un archivo de datos, usando DATA_DIR como base.
func (c *Config) FilePath(explicit, name string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	return filepath.Join(c.DataDir, name)
}
