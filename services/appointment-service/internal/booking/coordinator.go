// Package booking creates appointments against the slot grid.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/apperr"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/availability"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/metrics"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/storage"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/workflow"
)

const (
	maxAddressLen  = 500
	maxCommentsLen = 2000
)

type Catalog interface {
	Bookable(id string) bool
}

type Invalidator interface {
	Invalidate(ctx context.Context, at time.Time)
}

type Request struct {
	RequesterID string
	ServiceType string
	Date        string
	Time        string
	Address     string
	Comments    string
}

type Coordinator struct {
	store   storage.Store
	catalog Catalog
	grid    availability.Grid
	index   Invalidator
	roles   workflow.Roles
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewCoordinator(store storage.Store, catalog Catalog, grid availability.Grid, index Invalidator, roles workflow.Roles, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		catalog: catalog,
		grid:    grid,
		index:   index,
		roles:   roles,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the clock used to reject past slots.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) validate(req Request) (Request, time.Time, error) {
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	req.ServiceType = strings.TrimSpace(req.ServiceType)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	req.Address = strings.TrimSpace(req.Address)
	req.Comments = strings.TrimSpace(req.Comments)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"requester_id", req.RequesterID},
		{"service_type", req.ServiceType},
		{"date", req.Date},
		{"time", req.Time},
		{"address", req.Address},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return req, time.Time{}, apperr.InvalidRequest("missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(req.Address) > maxAddressLen {
		return req, time.Time{}, apperr.InvalidRequest("address is longer than %d characters", maxAddressLen)
	}
	if len(req.Comments) > maxCommentsLen {
		return req, time.Time{}, apperr.InvalidRequest("comments are longer than %d characters", maxCommentsLen)
	}
	if _, err := time.Parse(availability.DateLayout, req.Date); err != nil {
		return req, time.Time{}, apperr.InvalidRequest("date must be YYYY-MM-DD")
	}
	if !c.grid.Contains(req.Time) {
		return req, time.Time{}, apperr.InvalidRequest("time %s is not one of the bookable slots", req.Time)
	}
	if !c.catalog.Bookable(req.ServiceType) {
		return req, time.Time{}, apperr.InvalidRequest("unknown service %q", req.ServiceType)
	}
	at, err := c.grid.At(req.Date, req.Time)
	if err != nil {
		return req, time.Time{}, apperr.InvalidRequest("invalid slot: %v", err)
	}
	if !at.After(c.now()) {
		return req, time.Time{}, apperr.InvalidRequest("slot %s %s is in the past", req.Date, req.Time)
	}
	return req, at, nil
}

// Book reserves the requested slot for a new pending appointment. The
// availability check and the insert are one conditional write at the
// store; a caller that loses the race gets SlotUnavailable.
func (c *Coordinator) Book(ctx context.Context, req Request) (model.Appointment, error) {
	req, at, err := c.validate(req)
	if err != nil {
		c.metrics.ObserveBooking("invalid")
		return model.Appointment{}, err
	}

	now := c.now().UTC()
	appt, err := c.store.CreateAppointment(ctx, model.Appointment{
		ID:          uuid.NewString(),
		RequesterID: req.RequesterID,
		ServiceType: req.ServiceType,
		ScheduledAt: at.UTC(),
		Address:     req.Address,
		Comments:    req.Comments,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if errors.Is(err, storage.ErrSlotTaken) {
		c.metrics.ObserveBooking("slot_taken")
		return model.Appointment{}, apperr.New(apperr.KindSlotUnavailable,
			fmt.Sprintf("slot %s %s is already booked", req.Date, req.Time))
	}
	if err != nil {
		c.metrics.ObserveBooking("error")
		return model.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}

	if c.index != nil {
		c.index.Invalidate(ctx, appt.ScheduledAt)
	}
	c.metrics.ObserveBooking("ok")
	c.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"service_type", appt.ServiceType,
		"scheduled_at", appt.ScheduledAt.Format(time.RFC3339),
	)
	return appt, nil
}

// Get returns the appointment if subject, acting as role, may see it.
// Appointments of other requesters are reported as not found.
func (c *Coordinator) Get(ctx context.Context, id, subject, role string) (model.Appointment, error) {
	appt, err := c.store.GetAppointment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("get appointment: %w", err)
	}
	if !c.roles.CanAccess(subject, role, appt) {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	return appt, nil
}

// List returns every appointment for privileged roles and the caller's
// own otherwise, ordered by scheduled time.
func (c *Coordinator) List(ctx context.Context, subject, role string, limit int) ([]model.Appointment, error) {
	f := storage.ListFilter{Limit: limit}
	if !c.roles.IsPrivileged(role) {
		if subject == "" {
			return nil, apperr.Forbidden("anonymous callers cannot list appointments")
		}
		f.RequesterID = subject
	}
	appts, err := c.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}
