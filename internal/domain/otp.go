package domain

import "time"

// Channel identifica el medio por el que se entrega un OTP.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// Valid reporta si el canal es conocido.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPhone
}

// OTPPurpose etiqueta el flujo que emitio el codigo.
type OTPPurpose string

const (
	OTPPurposeSignup   OTPPurpose = "signup"
	OTPPurposeLogin2FA OTPPurpose = "login_2fa"
	OTPPurposeReset    OTPPurpose = "reset"
)

// OTP es el registro persistido de un codigo de un solo uso. Hay a lo sumo uno vivo por Scope.
type OTP struct {
	Scope      string     `json:"scope"`
	Channel    Channel    `json:"channel"`
	Identifier string     `json:"identifier"`
	CodeHash   string     `json:"code_hash"`
	Purpose    OTPPurpose `json:"purpose"`
	Attempts   int        `json:"attempts"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reporta si el codigo ya vencio en el instante now.
func (o OTP) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
