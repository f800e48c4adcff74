package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

var slot = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func pendingAt(id string, at time.Time) model.Appointment {
	return model.Appointment{
		ID:          id,
		RequesterID: "u-1",
		ServiceType: "termitas",
		ScheduledAt: at,
		Address:     "Calle 1",
		Status:      model.StatusPending,
		CreatedAt:   at.Add(-48 * time.Hour),
		UpdatedAt:   at.Add(-48 * time.Hour),
	}
}

func TestMemoryConcurrentCreateOneWinner(t *testing.T) {
	m := NewMemory()
	var wins, taken atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.CreateAppointment(context.Background(), pendingAt(fmt.Sprintf("a-%d", i), slot))
			switch err {
			case nil:
				wins.Add(1)
			case ErrSlotTaken:
				taken.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(31), taken.Load())
}

func TestMemoryCancelFreesSlot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateAppointment(ctx, pendingAt("a-1", slot))
	require.NoError(t, err)

	occupied, err := m.ListOccupied(ctx, slot.Add(-time.Hour), slot.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, occupied, 1)

	_, err = m.UpdateStatus(ctx, model.StatusChange{AppointmentID: "a-1", From: model.StatusPending, To: model.StatusCancelled, ActorRole: "admin", ChangedAt: slot})
	require.NoError(t, err)

	occupied, err = m.ListOccupied(ctx, slot.Add(-time.Hour), slot.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, occupied)

	_, err = m.CreateAppointment(ctx, pendingAt("a-2", slot))
	require.NoError(t, err)
}

func TestMemoryUpdateStatusIsCompareAndSwap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateAppointment(ctx, pendingAt("a-1", slot))
	require.NoError(t, err)

	change := model.StatusChange{AppointmentID: "a-1", From: model.StatusPending, To: model.StatusApproved, ActorRole: "admin", ChangedAt: slot}
	appt, err := m.UpdateStatus(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, appt.Status)

	_, err = m.UpdateStatus(ctx, change)
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = m.UpdateStatus(ctx, model.StatusChange{AppointmentID: "missing", From: model.StatusPending, To: model.StatusApproved})
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := m.ListStatusHistory(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.StatusApproved, history[0].To)
}

func TestMemoryNotarizationClaim(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateAppointment(ctx, pendingAt("a-1", slot))
	require.NoError(t, err)
	now := slot

	c, err := m.ClaimNotarization(ctx, "a-1", "d1", "owner-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "owner-a", c.Owner)

	_, err = m.ClaimNotarization(ctx, "a-1", "d1", "owner-b", now, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrClaimHeld)

	require.NoError(t, m.RecordSubmission(ctx, "a-1", "owner-a", "0xabc", now))
	assert.ErrorIs(t, m.RecordSubmission(ctx, "a-1", "owner-a", "0xdef", now), ErrClaimHeld)

	// Lease expires: the next claimant inherits the submitted reference.
	c, err = m.ClaimNotarization(ctx, "a-1", "d1", "owner-b", now.Add(2*time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", c.TxReference)

	require.NoError(t, m.ReleaseNotarization(ctx, "a-1", "owner-b", false))
	c, err = m.ClaimNotarization(ctx, "a-1", "d1", "owner-c", now.Add(2*time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", c.TxReference)

	require.NoError(t, m.ReleaseNotarization(ctx, "a-1", "owner-c", true))
	c, err = m.ClaimNotarization(ctx, "a-1", "d1", "owner-d", now.Add(2*time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, c.TxReference, "a rejected transaction is forgotten")
}

func TestMemorySetLedgerRefWriteOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateAppointment(ctx, pendingAt("a-1", slot))
	require.NoError(t, err)

	first := model.LedgerRecord{AppointmentID: "a-1", TxReference: "0x01", Digest: "aa", SubmittedAt: slot, ConfirmedAt: slot}
	got, err := m.SetLedgerRef(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = m.SetLedgerRef(ctx, model.LedgerRecord{AppointmentID: "a-1", TxReference: "0x02"})
	assert.ErrorIs(t, err, ErrLedgerRefSet)
	assert.Equal(t, first, got)

	appt, err := m.GetAppointment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "0x01", appt.LedgerRef)

	_, err = m.ClaimNotarization(ctx, "a-1", "aa", "late-owner", slot, slot.Add(time.Minute))
	assert.ErrorIs(t, err, ErrLedgerRefSet, "an anchored appointment cannot be claimed again")

	_, err = m.SetLedgerRef(ctx, model.LedgerRecord{AppointmentID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListFiltersByRequester(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a := pendingAt("a-1", slot.Add(time.Hour))
	b := pendingAt("a-2", slot)
	b.RequesterID = "u-2"
	_, err := m.CreateAppointment(ctx, a)
	require.NoError(t, err)
	_, err = m.CreateAppointment(ctx, b)
	require.NoError(t, err)

	all, err := m.ListAppointments(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a-2", all[0].ID, "ordered by scheduled time")

	own, err := m.ListAppointments(ctx, ListFilter{RequesterID: "u-1"})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "a-1", own[0].ID)
}
