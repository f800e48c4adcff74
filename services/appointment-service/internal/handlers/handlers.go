// Package handlers exposes the appointment engine over HTTP.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/pestledger/libs/auth"
	"github.com/md-rashed-zaman/pestledger/libs/httpx"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/apperr"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/availability"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/booking"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/catalog"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/notary"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/workflow"
)

type Handler struct {
	catalog  *catalog.Catalog
	index    *availability.Index
	booking  *booking.Coordinator
	workflow *workflow.Workflow
	notary   *notary.Connector
	logger   *slog.Logger
}

func New(cat *catalog.Catalog, index *availability.Index, coord *booking.Coordinator, wf *workflow.Workflow, conn *notary.Connector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		catalog:  cat,
		index:    index,
		booking:  coord,
		workflow: wf,
		notary:   conn,
		logger:   logger,
	}
}

// Register mounts the /api/v1 routes on r. Catalog and availability are
// public; appointment routes run behind authn.
func (h *Handler) Register(r chi.Router, authn httpx.Middleware) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/services", h.Services)
		r.Get("/availability", h.Availability)
		r.Get("/availability/day", h.Day)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Get("/appointments", h.List)
			r.Post("/appointments", h.Create)
			r.Get("/appointments/{id}", h.Get)
			r.Get("/appointments/{id}/history", h.History)
			r.Patch("/appointments/{id}/status", h.Transition)
			r.Post("/appointments/{id}/notarize", h.Notarize)
			r.Get("/appointments/{id}/ledger", h.Ledger)
		})
	})
}

type appointmentResponse struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	ServiceType string        `json:"service_type"`
	ScheduledAt string        `json:"scheduled_at"`
	Date        string        `json:"date"`
	Time        string        `json:"time"`
	Address     string        `json:"address"`
	Comments    string        `json:"comments,omitempty"`
	Status      model.Status  `json:"status"`
	Display     model.Display `json:"display"`
	LedgerRef   string        `json:"ledger_ref,omitempty"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

func (h *Handler) toResponse(a model.Appointment) appointmentResponse {
	local := a.ScheduledAt
	if loc := h.index.Grid().Location; loc != nil {
		local = local.In(loc)
	}
	return appointmentResponse{
		ID:          a.ID,
		RequesterID: a.RequesterID,
		ServiceType: a.ServiceType,
		ScheduledAt: a.ScheduledAt.UTC().Format(time.RFC3339),
		Date:        local.Format(availability.DateLayout),
		Time:        local.Format(availability.TimeLayout),
		Address:     a.Address,
		Comments:    a.Comments,
		Status:      a.Status,
		Display:     model.DisplayFor(a.Status),
		LedgerRef:   a.LedgerRef,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type serviceResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	services := h.catalog.Active()
	out := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		out = append(out, serviceResponse{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, r, h.logger, apperr.InvalidRequest("year must be an integer"))
		return
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, r, h.logger, apperr.InvalidRequest("month must be an integer"))
		return
	}
	days, err := h.index.Availability(r.Context(), year, month)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"year":     year,
		"month":    month,
		"capacity": h.index.Grid().Capacity(),
		"days":     days,
	})
}

func (h *Handler) Day(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	slots, err := h.index.DaySlots(r.Context(), date)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": date, "slots": slots})
}

// identity is set by the authn middleware on every appointment route.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}
