package notary

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

// canonicalAppointment is the immutable part of an appointment. Field
// names are fixed; renaming one changes every digest.
type canonicalAppointment struct {
	ServiceType string `cbor:"service_type"`
	ScheduledAt string `cbor:"scheduled_at"`
	Address     string `cbor:"address"`
	RequesterID string `cbor:"requester_id"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	return em
}()

// Canonical returns the deterministic CBOR encoding of appt's immutable
// fields. scheduled_at is RFC 3339 in UTC so the encoding does not
// depend on the server's zone.
func Canonical(appt model.Appointment) ([]byte, error) {
	return encMode.Marshal(canonicalAppointment{
		ServiceType: appt.ServiceType,
		ScheduledAt: appt.ScheduledAt.UTC().Format(time.RFC3339),
		Address:     appt.Address,
		RequesterID: appt.RequesterID,
	})
}

// Digest is Keccak-256 over Canonical(appt).
func Digest(appt model.Appointment) ([32]byte, error) {
	var d [32]byte
	raw, err := Canonical(appt)
	if err != nil {
		return d, err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	copy(d[:], h.Sum(nil))
	return d, nil
}

func DigestHex(d [32]byte) string { return hex.EncodeToString(d[:]) }
