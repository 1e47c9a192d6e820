package models

import (
	"strings"
	"time"
)

type User struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Email        string    `json:"email" yaml:"email"`
	Role         string    `json:"role" yaml:"role"` // immutable after creation
	Status       string    `json:"status" yaml:"status"`
	Department   string    `json:"department,omitempty" yaml:"department"`
	PasswordHash string    `json:"-" yaml:"-"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (u *User) IsActive() bool { return u.Status == UserActive }

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// IsBillable reports whether bookings of this user carry a payment axis.
func (u *User) IsBillable() bool { return u.Role == RoleExternal }

// InAudience reports whether a broadcast to audience reaches u.
func (u *User) InAudience(audience string) bool {
	switch audience {
	case AudienceAll:
		return true
	case AudienceInternal:
		return u.Role == RoleInternal
	case AudienceExternal:
		return u.Role == RoleExternal
	case AudienceAdmins:
		return u.Role == RoleAdmin
	default:
		return false
	}
}

// MatchesSearch does a case-insensitive match on name, email or department.
func (u *User) MatchesSearch(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(u.Name), term) ||
		strings.Contains(strings.ToLower(u.Email), term) ||
		strings.Contains(strings.ToLower(u.Department), term)
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
