// Package workflow moves appointments through their approval lifecycle.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/apperr"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/metrics"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/storage"
)

var edges = map[model.Status][]model.Status{
	model.StatusPending:  {model.StatusApproved, model.StatusCancelled},
	model.StatusApproved: {model.StatusCompleted, model.StatusCancelled},
}

// Allowed reports whether from→to is an edge of the lifecycle.
func Allowed(from, to model.Status) bool {
	for _, t := range edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Next lists the statuses reachable from s in one step.
func Next(s model.Status) []model.Status {
	return append([]model.Status(nil), edges[s]...)
}

// Invalidator drops cached availability for the month containing at.
type Invalidator interface {
	Invalidate(ctx context.Context, at time.Time)
}

type Workflow struct {
	store   storage.Store
	index   Invalidator
	roles   Roles
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(store storage.Store, index Invalidator, roles Roles, m *metrics.Metrics, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{store: store, index: index, roles: roles, metrics: m, logger: logger, now: time.Now}
}

func (w *Workflow) Roles() Roles { return w.roles }

// Transition moves the appointment to target on behalf of actorRole. The
// write is a compare-and-swap on the status read here, so of two racing
// actors exactly one succeeds and the other gets IllegalTransition.
func (w *Workflow) Transition(ctx context.Context, id string, target model.Status, actorRole string) (model.Appointment, error) {
	appt, err := w.store.GetAppointment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}

	from := appt.Status
	if !target.Valid() || !Allowed(from, target) {
		w.metrics.ObserveTransition(string(from), string(target), "illegal")
		return model.Appointment{}, apperr.New(apperr.KindIllegalTransition,
			fmt.Sprintf("cannot move appointment from %s to %s", from, target))
	}
	if !w.roles.IsPrivileged(actorRole) {
		w.metrics.ObserveTransition(string(from), string(target), "forbidden")
		return model.Appointment{}, apperr.Forbidden(fmt.Sprintf("role %q may not change appointment status", actorRole))
	}

	updated, err := w.store.UpdateStatus(ctx, model.StatusChange{
		AppointmentID: id,
		From:          from,
		To:            target,
		ActorRole:     actorRole,
		ChangedAt:     w.now().UTC(),
	})
	switch {
	case errors.Is(err, storage.ErrStatusConflict):
		w.metrics.ObserveTransition(string(from), string(target), "conflict")
		return model.Appointment{}, apperr.New(apperr.KindIllegalTransition,
			fmt.Sprintf("appointment is no longer %s", from))
	case errors.Is(err, storage.ErrNotFound):
		return model.Appointment{}, apperr.NotFound("appointment not found")
	case err != nil:
		return model.Appointment{}, fmt.Errorf("update status: %w", err)
	}

	if w.index != nil {
		w.index.Invalidate(ctx, updated.ScheduledAt)
	}
	w.metrics.ObserveTransition(string(from), string(target), "ok")
	w.logger.Info("appointment status changed",
		"appointment_id", id,
		"from", from,
		"to", target,
		"actor_role", actorRole,
	)
	return updated, nil
}

func (w *Workflow) History(ctx context.Context, id string) ([]model.StatusChange, error) {
	changes, err := w.store.ListStatusHistory(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return changes, nil
}
