// Package storage persists appointments, their status history and
// notarization state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

var (
	ErrNotFound       = errors.New("appointment not found")
	ErrSlotTaken      = errors.New("slot already taken")
	ErrStatusConflict = errors.New("appointment status changed concurrently")
	ErrLedgerRefSet   = errors.New("ledger reference already set")
	ErrClaimHeld      = errors.New("notarization claimed by another submitter")
)

type ListFilter struct {
	// RequesterID restricts the list to one requester; empty lists all.
	RequesterID string
	Limit       int
}

// Claim is the cross-process lock on notarizing one appointment. Once a
// transaction has been sent TxReference is kept even after the lease is
// released, so the next claimant confirms it instead of submitting again.
type Claim struct {
	AppointmentID string
	Owner         string
	Digest        string
	TxReference   string
	SubmittedAt   time.Time
	LeaseUntil    time.Time
}

type Store interface {
	// CreateAppointment inserts appt unless a non-cancelled appointment
	// already holds appt.ScheduledAt, in which case it returns ErrSlotTaken.
	CreateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]model.Appointment, error)
	ListOccupied(ctx context.Context, from, to time.Time) ([]time.Time, error)

	// UpdateStatus moves id from one status to another only if it is still
	// in from, recording the change. ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, change model.StatusChange) (model.Appointment, error)
	ListStatusHistory(ctx context.Context, id string) ([]model.StatusChange, error)

	// ClaimNotarization takes or renews the claim for owner. ErrClaimHeld
	// when another owner holds a live lease, ErrLedgerRefSet once the
	// appointment is anchored. The ledger_ref check and the claim are one
	// atomic step.
	ClaimNotarization(ctx context.Context, id, digest, owner string, now, leaseUntil time.Time) (Claim, error)
	RecordSubmission(ctx context.Context, id, owner, txRef string, at time.Time) error
	// ReleaseNotarization drops owner's lease. With discardTx the recorded
	// transaction is forgotten too, for use after the ledger rejected it.
	ReleaseNotarization(ctx context.Context, id, owner string, discardTx bool) error

	// SetLedgerRef stores rec and the appointment's ledger_ref at most
	// once. If a reference is already set it returns the stored record
	// with ErrLedgerRefSet.
	SetLedgerRef(ctx context.Context, rec model.LedgerRecord) (model.LedgerRecord, error)
	GetLedgerRecord(ctx context.Context, id string) (model.LedgerRecord, error)
}

const defaultListLimit = 500

func listLimit(n int) int {
	if n <= 0 || n > defaultListLimit {
		return defaultListLimit
	}
	return n
}
