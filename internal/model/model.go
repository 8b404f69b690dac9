package model

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Role is the enrollment role of a profile (stored in the user_type column).
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Deficiency is the accessibility need recorded on a profile (stored in the deficiencia column).
// A nil *Deficiency means none.
type Deficiency string

const (
	DeficiencyVisual  Deficiency = "Visual"
	DeficiencyHearing Deficiency = "Auditiva"
)

// Principal is the authenticated identity returned by the authentication service.
type Principal struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is a live proof of authentication. The synchronizer only observes sessions,
// it never constructs them.
type Session struct {
	Token     *oauth2.Token `json:"-"`
	Principal Principal     `json:"user"`
}

// Valid reports whether the session carries a non-expired access token.
func (s *Session) Valid() bool {
	return s != nil && s.Token != nil && s.Token.Valid()
}

// AuthEventKind names a session change emitted by the authentication service.
type AuthEventKind string

const (
	EventInitialSession AuthEventKind = "INITIAL_SESSION"
	EventSignedIn       AuthEventKind = "SIGNED_IN"
	EventSignedOut      AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthEvent is delivered to session-change listeners. Session is nil on sign-out.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// SchoolRef is the school embedded in a profile or class section.
type SchoolRef struct {
	ID      string  `json:"id"`
	Name    string  `json:"nome"`
	Address *string `json:"endereco,omitempty"`
}

// ClassRef is the class section embedded in a profile.
type ClassRef struct {
	ID     string     `json:"id"`
	Name   string     `json:"nome"`
	Year   *string    `json:"ano,omitempty"`
	School *SchoolRef `json:"escola,omitempty"`
}

// Profile is the enrollment record of a principal, denormalized with its school and class.
type Profile struct {
	ID         string      `json:"id"`
	Name       *string     `json:"name"`
	Role       *Role       `json:"user_type"`
	AvatarURL  *string     `json:"avatar_url,omitempty"`
	Deficiency *Deficiency `json:"deficiencia,omitempty"`
	ClassID    *string     `json:"turma_id,omitempty"`
	SchoolID   *string     `json:"escola_id,omitempty"`
	Shift      *string     `json:"turno,omitempty"`
	CreatedAt  *time.Time  `json:"created_at,omitempty"`
	Class      *ClassRef   `json:"turma,omitempty"`
	School     *SchoolRef  `json:"escola,omitempty"`
}

// DisplayName returns the profile name, or fallback when unset or blank.
func (p *Profile) DisplayName(fallback string) string {
	if p == nil || p.Name == nil || strings.TrimSpace(*p.Name) == "" {
		return fallback
	}
	return *p.Name
}

// School is a row of the escolas table.
type School struct {
	ID      string  `json:"id"`
	Name    string  `json:"nome"`
	Address *string `json:"endereco,omitempty"`
}

// ClassSection is a row of the turmas table.
type ClassSection struct {
	ID       string  `json:"id"`
	Name     string  `json:"nome"`
	Year     *string `json:"ano,omitempty"`
	SchoolID *string `json:"escola_id"`
}

// ErrorMessage converts err into the human-readable text kept as "last error".
func ErrorMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var msg interface{ UserMessage() string }
	if errors.As(err, &msg) && msg.UserMessage() != "" {
		return msg.UserMessage()
	}
	if s := err.Error(); s != "" {
		return s
	}
	return fallback
}
