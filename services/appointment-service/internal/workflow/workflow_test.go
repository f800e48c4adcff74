package workflow

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/apperr"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/storage"
)

type recordingIndex struct {
	mu  sync.Mutex
	ats []time.Time
}

func (r *recordingIndex) Invalidate(_ context.Context, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ats = append(r.ats, at)
}

// staleStore serves a fixed snapshot from GetAppointment, as a reader
// that lost a race would have seen it.
type staleStore struct {
	storage.Store
	snapshot model.Appointment
}

func (s staleStore) GetAppointment(context.Context, string) (model.Appointment, error) {
	return s.snapshot, nil
}

var slot = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func newPending(t *testing.T, store storage.Store, id string, at time.Time) model.Appointment {
	t.Helper()
	appt, err := store.CreateAppointment(context.Background(), model.Appointment{
		ID:          id,
		RequesterID: "u-1",
		ServiceType: "desinfeccion",
		ScheduledAt: at,
		Address:     "Calle 1",
		Status:      model.StatusPending,
	})
	require.NoError(t, err)
	return appt
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCancelledCannotBeApproved(t *testing.T) {
	store := storage.NewMemory()
	idx := &recordingIndex{}
	wf := New(store, idx, NewRoles("admin"), nil, quietLogger())
	ctx := context.Background()
	newPending(t, store, "a-1", slot)

	appt, err := wf.Transition(ctx, "a-1", model.StatusCancelled, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, appt.Status)

	_, err = wf.Transition(ctx, "a-1", model.StatusApproved, "admin")
	require.ErrorIs(t, err, apperr.ErrIllegalTransition)

	history, err := wf.History(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.StatusPending, history[0].From)
	assert.Equal(t, model.StatusCancelled, history[0].To)
	assert.Equal(t, "admin", history[0].ActorRole)
	assert.Equal(t, []time.Time{slot}, idx.ats)
}

func TestTransitionRules(t *testing.T) {
	cases := []struct {
		name   string
		path   []model.Status
		target model.Status
		role   string
		want   error
	}{
		{"approve", nil, model.StatusApproved, "admin", nil},
		{"pending cannot complete", nil, model.StatusCompleted, "admin", apperr.ErrIllegalTransition},
		{"unknown target", nil, model.Status("archived"), "admin", apperr.ErrIllegalTransition},
		{"customer cannot approve", nil, model.StatusApproved, "customer", apperr.ErrForbidden},
		{"customer cannot cancel", nil, model.StatusCancelled, "customer", apperr.ErrForbidden},
		{"complete approved", []model.Status{model.StatusApproved}, model.StatusCompleted, "ADMIN", nil},
		{"cancel approved", []model.Status{model.StatusApproved}, model.StatusCancelled, "admin", nil},
		{"completed is terminal", []model.Status{model.StatusApproved, model.StatusCompleted}, model.StatusCancelled, "admin", apperr.ErrIllegalTransition},
		{"illegal edge wins over role", []model.Status{model.StatusCancelled}, model.StatusApproved, "customer", apperr.ErrIllegalTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := storage.NewMemory()
			wf := New(store, nil, NewRoles(), nil, quietLogger())
			ctx := context.Background()
			newPending(t, store, "a-1", slot)
			for _, s := range tc.path {
				_, err := wf.Transition(ctx, "a-1", s, "admin")
				require.NoError(t, err)
			}
			appt, err := wf.Transition(ctx, "a-1", tc.target, tc.role)
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.target, appt.Status)
		})
	}
}

func TestTransitionUnknownAppointment(t *testing.T) {
	wf := New(storage.NewMemory(), nil, NewRoles(), nil, quietLogger())
	_, err := wf.Transition(context.Background(), "missing", model.StatusApproved, "admin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = wf.History(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStaleReaderLosesCompareAndSwap(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	before := newPending(t, store, "a-1", slot)

	winner := New(store, nil, NewRoles(), nil, quietLogger())
	_, err := winner.Transition(ctx, "a-1", model.StatusCancelled, "admin")
	require.NoError(t, err)

	loser := New(staleStore{Store: store, snapshot: before}, nil, NewRoles(), nil, quietLogger())
	_, err = loser.Transition(ctx, "a-1", model.StatusApproved, "admin")
	require.ErrorIs(t, err, apperr.ErrIllegalTransition)

	appt, err := store.GetAppointment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, appt.Status)
}

func TestConcurrentApprovalsOneWinner(t *testing.T) {
	store := storage.NewMemory()
	wf := New(store, nil, NewRoles(), nil, quietLogger())
	newPending(t, store, "a-1", slot)

	var ok, illegal atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wf.Transition(context.Background(), "a-1", model.StatusApproved, "admin")
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.KindOf(err) == apperr.KindIllegalTransition:
				illegal.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(19), illegal.Load())

	history, err := wf.History(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStatusPathsFollowEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	targets := append(append([]model.Status(nil), model.Statuses...), model.Status("bogus"))
	ctx := context.Background()

	for walk := 0; walk < 200; walk++ {
		store := storage.NewMemory()
		wf := New(store, nil, NewRoles(), nil, quietLogger())
		newPending(t, store, "a-1", slot)
		for step := 0; step < 6; step++ {
			role := "admin"
			if rng.Intn(4) == 0 {
				role = "customer"
			}
			_, _ = wf.Transition(ctx, "a-1", targets[rng.Intn(len(targets))], role)
		}

		history, err := wf.History(ctx, "a-1")
		require.NoError(t, err)
		prev := model.StatusPending
		for _, h := range history {
			require.Equal(t, prev, h.From)
			require.Truef(t, Allowed(h.From, h.To), "walk %d took %s→%s", walk, h.From, h.To)
			require.Equal(t, "admin", h.ActorRole)
			prev = h.To
		}
		appt, err := store.GetAppointment(ctx, "a-1")
		require.NoError(t, err)
		require.Equal(t, prev, appt.Status)
	}
}

func TestRoles(t *testing.T) {
	r := NewRoles(" Admin ", "operator", "")
	assert.True(t, r.IsPrivileged("admin"))
	assert.True(t, r.IsPrivileged("operator"))
	assert.False(t, r.IsPrivileged("customer"))

	appt := model.Appointment{RequesterID: "u-1"}
	assert.True(t, r.CanAccess("u-1", "customer", appt))
	assert.False(t, r.CanAccess("u-2", "customer", appt))
	assert.True(t, r.CanAccess("u-2", "operator", appt))
	assert.False(t, r.CanAccess("", "customer", model.Appointment{}))

	assert.True(t, NewRoles().IsPrivileged(DefaultPrivilegedRole))
	assert.Empty(t, Next(model.StatusCompleted))
	assert.ElementsMatch(t, []model.Status{model.StatusApproved, model.StatusCancelled}, Next(model.StatusPending))
}
