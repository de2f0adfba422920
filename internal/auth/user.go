package auth

import (
	"strings"
	"time"
)

// User owns uploaded jobs. Only the HTTP tier reads it.
type User struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

// NormalizeEmail lowercases and trims an address before lookup or insert.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
