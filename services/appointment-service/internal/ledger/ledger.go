// Package ledger anchors appointment digests on a distributed ledger.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPending means the transaction is known but not yet final.
	ErrPending = errors.New("ledger transaction pending")

	// ErrRejected means the ledger will never accept the transaction,
	// either because it reverted or because the node dropped it.
	ErrRejected = errors.New("ledger transaction rejected")

	ErrUnknownTx = errors.New("ledger transaction unknown")

	errReadOnly = errors.New("ledger has no signing key")
)

// Anchor is what gets written: the appointment it belongs to and the
// 32-byte digest of its canonical encoding.
type Anchor struct {
	AppointmentID string
	Digest        [32]byte
}

type Receipt struct {
	TxReference string
	Block       uint64
	ConfirmedAt time.Time
}

type Ledger interface {
	// Submit sends the anchor and returns its transaction reference. A
	// returned reference does not mean the write is final.
	Submit(ctx context.Context, a Anchor) (string, error)
	// Receipt returns ErrPending until the transaction is final and
	// ErrRejected if it failed.
	Receipt(ctx context.Context, txRef string) (Receipt, error)
	// Payload returns the bytes the ledger holds for txRef.
	Payload(ctx context.Context, txRef string) ([]byte, error)
}
