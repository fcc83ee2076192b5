package auth

import (
	"math"
	"time"
)

// Identity is a registered account.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GivenName    string    `json:"given_name,omitempty"`
	FamilyName   string    `json:"family_name,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// Public returns a copy of the identity without credential material.
func (i Identity) Public() Identity {
	i.PasswordHash = ""
	return i
}

// Session is an opaque bearer token bound to an identity.
type Session struct {
	Token      string
	IdentityID string
	ExpiresAt  time.Time
	Active     bool
	CreatedAt  time.Time
}

// ValidAt reports whether the session itself is usable at now. The owning
// identity must be checked separately.
func (s Session) ValidAt(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// Role groups permissions.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Permission is an allowed (resource, action) pair.
type Permission struct {
	ID          string `json:"id,omitempty"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// Key renders the permission as "resource:action".
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// AuditEntry is an immutable record of one authentication attempt.
type AuditEntry struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id,omitempty"`
	Email      string    `json:"email"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuthenticatedIdentity is the result of a successful session validation. It
// is passed explicitly to permission checks and handlers.
type AuthenticatedIdentity struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
	Token  string `json:"-"`
}

// RegisterRequest carries the registration input.
type RegisterRequest struct {
	Email      string
	Password   string
	GivenName  string
	FamilyName string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IdentityUpdate lists the mutable profile fields. Nil fields are left as is.
type IdentityUpdate struct {
	GivenName  *string
	FamilyName *string
	Active     *bool
}

// Page selects a window of the directory listing.
type Page struct {
	Number int
	Limit  int
}

// Offset returns the number of rows skipped before the page. It saturates
// at math.MaxInt instead of overflowing.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Limit <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Limit
}
