package models

import "time"

type UserLanguage string

const (
	LanguageEN UserLanguage = "en"
	LanguageRU UserLanguage = "ru"
	LanguageUK UserLanguage = "uk"
)

// User owns monitors. The id doubles as the chat id used for notification
// delivery, so it is assigned externally, never generated.
type User struct {
	ID        int64        `json:"id" db:"id"`
	Language  UserLanguage `json:"language" db:"language"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}
