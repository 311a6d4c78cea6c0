package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is a time-bounded academic happening with an overall seat capacity.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Capacity    int       `json:"capacity"`
	IsActive    bool      `json:"is_active"`
	Shift       Shift     `json:"shift"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AllowsShift reports whether a student of the given shift may enroll.
func (e *Event) AllowsShift(s Shift) bool {
	return e.Shift == ShiftBoth || s == ShiftBoth || e.Shift == s
}

// TalkKind distinguishes lectures from hands-on activities.
type TalkKind string

const (
	TalkKindLecture  TalkKind = "lecture"
	TalkKindActivity TalkKind = "activity"
)

// Talk is a scheduled session belonging to one event.
type Talk struct {
	ID              uuid.UUID  `json:"id"`
	EventID         uuid.UUID  `json:"event_id"`
	Title           string     `json:"title"`
	Kind            TalkKind   `json:"kind"`
	SpeakerID       *uuid.UUID `json:"speaker_id,omitempty"`
	Capacity        int        `json:"capacity"`
	StartsAt        time.Time  `json:"starts_at"`
	EndsAt          time.Time  `json:"ends_at"`
	CreditHours     float64    `json:"credit_hours"`
	Secret          string     `json:"-"`
	SecretIssuedAt  *time.Time `json:"-"`
	RotationSeconds int        `json:"rotation_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CapacitySummary describes current occupancy of an event or talk.
type CapacitySummary struct {
	Capacity  int `json:"capacity"`
	Enrolled  int `json:"enrolled"`
	SeatsLeft int `json:"seats_left"`
}

// NewCapacitySummary builds a summary from capacity and confirmed count.
func NewCapacitySummary(capacity, enrolled int) CapacitySummary {
	left := capacity - enrolled
	if left < 0 {
		left = 0
	}
	return CapacitySummary{Capacity: capacity, Enrolled: enrolled, SeatsLeft: left}
}
