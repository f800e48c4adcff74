package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var Statuses = []Status{StatusPending, StatusApproved, StatusCompleted, StatusCancelled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Occupies reports whether an appointment in this status holds its slot.
func (s Status) Occupies() bool {
	return s.Valid() && s != StatusCancelled
}

type Appointment struct {
	ID          string
	RequesterID string
	ServiceType string
	ScheduledAt time.Time
	Address     string
	Comments    string
	Status      Status
	LedgerRef   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LedgerRecord is the proof that an appointment was notarized. Digest is
// the hex Keccak-256 of the canonical appointment encoding.
type LedgerRecord struct {
	AppointmentID string
	TxReference   string
	Digest        string
	SubmittedAt   time.Time
	ConfirmedAt   time.Time
}

type StatusChange struct {
	AppointmentID string
	From          Status
	To            Status
	ActorRole     string
	ChangedAt     time.Time
}

type Service struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Retired     bool   `yaml:"retired"`
}
