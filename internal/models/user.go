package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the platform.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOrganizer Role = "organizer"
	RoleSpeaker   Role = "speaker"
	RoleStudent   Role = "student"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleOrganizer, RoleSpeaker, RoleStudent:
		return Role(s), true
	}
	return "", false
}

// IsStaff reports whether the role may run staff-only operations (credential
// regeneration, attendance override, walk-ins, certificate batches).
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleOrganizer
}

// Shift is the study period a student attends or an event is offered in.
type Shift string

const (
	ShiftMorning Shift = "morning"
	ShiftNight   Shift = "night"
	ShiftBoth    Shift = "both"
)

// ParseShift validates a shift string.
func ParseShift(s string) (Shift, bool) {
	switch Shift(s) {
	case ShiftMorning, ShiftNight, ShiftBoth:
		return Shift(s), true
	}
	return "", false
}

// User represents a platform user.
type User struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	Password           string    `json:"-"`
	FullName           string    `json:"full_name"`
	RegistrationNumber string    `json:"registration_number"`
	Role               Role      `json:"role"`
	Shift              Shift     `json:"shift"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	FullName           string    `json:"full_name"`
	RegistrationNumber string    `json:"registration_number"`
	Role               Role      `json:"role"`
	Shift              Shift     `json:"shift"`
	CreatedAt          time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:                 u.ID,
		Email:              u.Email,
		FullName:           u.FullName,
		RegistrationNumber: u.RegistrationNumber,
		Role:               u.Role,
		Shift:              u.Shift,
		CreatedAt:          u.CreatedAt,
	}
}

// Principal is the authenticated caller as seen by the engine.
type Principal struct {
	UserID uuid.UUID
	Role   Role
	Shift  Shift
}
