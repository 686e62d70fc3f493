package domain

import (
	"encoding/json"
	"time"
)

// User es el registro de identidad y credenciales.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Username     string    `json:"username,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Contact devuelve el canal preferido para enviar codigos: email primero, luego telefono.
func (u User) Contact() (Channel, string) {
	if u.Email != "" {
		return ChannelEmail, u.Email
	}
	return ChannelPhone, u.Phone
}

// HasIdentifier reporta si el usuario tiene al menos email o telefono.
func (u User) HasIdentifier() bool {
	return u.Email != "" || u.Phone != ""
}

// userRecord is the on-disk shape; PasswordHash is hidden from API JSON but must persist.
type userRecord struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Username     string    `json:"username,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Active       bool      `json:"active"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StoredUser envuelve User para serializarlo incluyendo el hash de password.
type StoredUser User

func (s StoredUser) MarshalJSON() ([]byte, error) {
	return json.Marshal(userRecord(s))
}

func (s *StoredUser) UnmarshalJSON(data []byte) error {
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*s = StoredUser(rec)
	return nil
}
