package models

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus is the state of an event-level enrollment.
type EnrollmentStatus string

const EnrollmentConfirmed EnrollmentStatus = "confirmed"

// EventEnrollment pairs a student with an event.
type EventEnrollment struct {
	ID        uuid.UUID        `json:"id"`
	StudentID uuid.UUID        `json:"student_id"`
	EventID   uuid.UUID        `json:"event_id"`
	Status    EnrollmentStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// AttendanceStatus is the presence state of a talk enrollment.
type AttendanceStatus string

const (
	AttendanceNotYet  AttendanceStatus = "not_yet"
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceExcused AttendanceStatus = "excused"
	AttendanceWalkIn  AttendanceStatus = "walk_in"
)

// ParseAttendanceStatus validates a status string.
func ParseAttendanceStatus(s string) (AttendanceStatus, bool) {
	switch AttendanceStatus(s) {
	case AttendanceNotYet, AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused, AttendanceWalkIn:
		return AttendanceStatus(s), true
	}
	return "", false
}

// Attended reports whether the status counts as presence for certificates.
func (s AttendanceStatus) Attended() bool {
	return s == AttendancePresent || s == AttendanceLate || s == AttendanceWalkIn
}

// TalkEnrollment pairs a student with a talk and tracks presence.
type TalkEnrollment struct {
	ID         uuid.UUID        `json:"id"`
	StudentID  uuid.UUID        `json:"student_id"`
	TalkID     uuid.UUID        `json:"talk_id"`
	Present    bool             `json:"present"`
	PresentAt  *time.Time       `json:"present_at,omitempty"`
	Status     AttendanceStatus `json:"status"`
	VerifiedBy *uuid.UUID       `json:"verified_by,omitempty"`
	WalkIn     bool             `json:"walk_in"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// StudentEnrollments is the set of enrollments one student holds.
type StudentEnrollments struct {
	Events []EventEnrollment `json:"events"`
	Talks  []TalkEnrollment  `json:"talks"`
}

// EnrollmentCancellation reports what an event withdrawal removed.
type EnrollmentCancellation struct {
	EventID          uuid.UUID `json:"event_id"`
	TalksRemoved     int       `json:"talks_removed"`
	PresentDiscarded int       `json:"present_discarded"`
}

// AttendanceRow is a talk enrollment joined with the student's identity, for staff lists.
type AttendanceRow struct {
	TalkEnrollment
	FullName           string `json:"full_name"`
	RegistrationNumber string `json:"registration_number"`
}
