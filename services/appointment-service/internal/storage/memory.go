package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

// Memory is a Store kept in process memory. A single mutex makes every
// check-and-write atomic.
type Memory struct {
	mu      sync.Mutex
	appts   map[string]model.Appointment
	history map[string][]model.StatusChange
	claims  map[string]Claim
	ledger  map[string]model.LedgerRecord
	bySlot  map[int64]string
}

func NewMemory() *Memory {
	return &Memory{
		appts:   map[string]model.Appointment{},
		history: map[string][]model.StatusChange{},
		claims:  map[string]Claim{},
		ledger:  map[string]model.LedgerRecord{},
		bySlot:  map[int64]string{},
	}
}

func slotKey(t time.Time) int64 { return t.UTC().UnixNano() }

func (m *Memory) CreateAppointment(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.bySlot[slotKey(appt.ScheduledAt)]; taken {
		return model.Appointment{}, ErrSlotTaken
	}
	m.appts[appt.ID] = appt
	if appt.Status.Occupies() {
		m.bySlot[slotKey(appt.ScheduledAt)] = appt.ID
	}
	return appt, nil
}

func (m *Memory) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return appt, nil
}

func (m *Memory) ListAppointments(_ context.Context, f ListFilter) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appts {
		if f.RequesterID == "" || a.RequesterID == f.RequesterID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	if n := listLimit(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) ListOccupied(_ context.Context, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, id := range m.bySlot {
		at := m.appts[id].ScheduledAt
		if !at.Before(from) && at.Before(to) {
			out = append(out, at)
		}
	}
	return out, nil
}

func (m *Memory) UpdateStatus(_ context.Context, change model.StatusChange) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[change.AppointmentID]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if appt.Status != change.From {
		return model.Appointment{}, ErrStatusConflict
	}
	appt.Status = change.To
	appt.UpdatedAt = change.ChangedAt
	m.appts[appt.ID] = appt
	if !change.To.Occupies() {
		key := slotKey(appt.ScheduledAt)
		if m.bySlot[key] == appt.ID {
			delete(m.bySlot, key)
		}
	}
	m.history[appt.ID] = append(m.history[appt.ID], change)
	return appt, nil
}

func (m *Memory) ListStatusHistory(_ context.Context, id string) ([]model.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return nil, ErrNotFound
	}
	return append([]model.StatusChange(nil), m.history[id]...), nil
}

func (m *Memory) ClaimNotarization(_ context.Context, id, digest, owner string, now, leaseUntil time.Time) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return Claim{}, ErrNotFound
	}
	if appt.LedgerRef != "" {
		return Claim{}, ErrLedgerRefSet
	}
	c, exists := m.claims[id]
	if exists && c.Owner != owner && c.LeaseUntil.After(now) {
		return Claim{}, ErrClaimHeld
	}
	if !exists {
		c = Claim{AppointmentID: id, Digest: digest}
	}
	c.Owner = owner
	c.LeaseUntil = leaseUntil
	m.claims[id] = c
	return c, nil
}

func (m *Memory) RecordSubmission(_ context.Context, id, owner, txRef string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || c.Owner != owner || c.TxReference != "" {
		return ErrClaimHeld
	}
	c.TxReference = txRef
	c.SubmittedAt = at
	m.claims[id] = c
	return nil
}

func (m *Memory) ReleaseNotarization(_ context.Context, id, owner string, discardTx bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || c.Owner != owner {
		return nil
	}
	c.Owner = ""
	c.LeaseUntil = time.Time{}
	if discardTx {
		c.TxReference = ""
		c.SubmittedAt = time.Time{}
	}
	m.claims[id] = c
	return nil
}

func (m *Memory) SetLedgerRef(_ context.Context, rec model.LedgerRecord) (model.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[rec.AppointmentID]
	if !ok {
		return model.LedgerRecord{}, ErrNotFound
	}
	if appt.LedgerRef != "" {
		return m.ledger[appt.ID], ErrLedgerRefSet
	}
	appt.LedgerRef = rec.TxReference
	m.appts[appt.ID] = appt
	m.ledger[appt.ID] = rec
	delete(m.claims, appt.ID)
	return rec, nil
}

func (m *Memory) GetLedgerRecord(_ context.Context, id string) (model.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ledger[id]
	if !ok {
		return model.LedgerRecord{}, ErrNotFound
	}
	return rec, nil
}
