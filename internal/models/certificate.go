package models

import (
	"time"

	"github.com/google/uuid"
)

// CertificateKind distinguishes participation from speaker certificates.
type CertificateKind string

const (
	CertificateParticipation CertificateKind = "participation"
	CertificateSpeaker       CertificateKind = "speaker"
)

// Certificate is an issued, publicly verifiable record of credit hours.
type Certificate struct {
	ID         uuid.UUID       `json:"id"`
	Kind       CertificateKind `json:"kind"`
	UserID     uuid.UUID       `json:"user_id"`
	EventID    uuid.UUID       `json:"event_id"`
	TalkID     *uuid.UUID      `json:"talk_id,omitempty"`
	Code       string          `json:"code"`
	TotalHours float64         `json:"total_hours"`
	IssuedAt   time.Time       `json:"issued_at"`
}

// CertificateVerification is the redacted public view of a certificate.
type CertificateVerification struct {
	Kind               CertificateKind `json:"kind"`
	TotalHours         float64         `json:"total_hours"`
	IssuedAt           time.Time       `json:"issued_at"`
	HolderName         string          `json:"holder_name"`
	RegistrationNumber string          `json:"registration_number"`
	EventTitle         string          `json:"event_title"`
	TalkTitle          string          `json:"talk_title,omitempty"`
}

// PresenceRecord is one attended talk, as consumed by the certificate aggregator.
type PresenceRecord struct {
	StudentID   uuid.UUID
	TalkID      uuid.UUID
	CreditHours float64
}
