package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

const (
	EventAppointmentBooked        = "appointment.booked.v1"
	EventAppointmentStatusChanged = "appointment.status_changed.v1"
	EventAppointmentNotarized     = "appointment.notarized.v1"
)

// Event is one appointment fact waiting in the outbox. Topic doubles as
// the event type; consumers dedupe on ID.
type Event struct {
	ID            string
	AppointmentID string
	Topic         string
	Payload       []byte
}

func newEvent(topic, appointmentID string, payload map[string]any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: uuid.NewString(), AppointmentID: appointmentID, Topic: topic, Payload: raw}, nil
}

func Booked(appt model.Appointment) (Event, error) {
	return newEvent(EventAppointmentBooked, appt.ID, map[string]any{
		"appointment_id": appt.ID,
		"requester_id":   appt.RequesterID,
		"service_type":   appt.ServiceType,
		"scheduled_at":   appt.ScheduledAt.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
}

func StatusChanged(change model.StatusChange) (Event, error) {
	return newEvent(EventAppointmentStatusChanged, change.AppointmentID, map[string]any{
		"appointment_id": change.AppointmentID,
		"from":           change.From,
		"to":             change.To,
		"actor_role":     change.ActorRole,
		"changed_at":     change.ChangedAt.UTC().Format(time.RFC3339),
	})
}

func Notarized(rec model.LedgerRecord) (Event, error) {
	return newEvent(EventAppointmentNotarized, rec.AppointmentID, map[string]any{
		"appointment_id": rec.AppointmentID,
		"tx_reference":   rec.TxReference,
		"digest":         rec.Digest,
		"submitted_at":   rec.SubmittedAt.UTC().Format(time.RFC3339),
	})
}
