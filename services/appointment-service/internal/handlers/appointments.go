package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/pestledger/libs/httpx"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/apperr"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/booking"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

type createAppointmentRequest struct {
	ServiceType string `json:"service_type"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Address     string `json:"address"`
	Comments    string `json:"comments"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type historyItem struct {
	From      model.Status `json:"from"`
	To        model.Status `json:"to"`
	ActorRole string       `json:"actor_role"`
	ChangedAt string       `json:"changed_at"`
}

type ledgerResponse struct {
	AppointmentID string `json:"appointment_id"`
	TxReference   string `json:"tx_reference"`
	Digest        string `json:"digest"`
	SubmittedAt   string `json:"submitted_at"`
	ConfirmedAt   string `json:"confirmed_at"`
	Verified      *bool  `json:"verified,omitempty"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, apperr.InvalidRequest("invalid json body"))
		return
	}
	caller := identity(r)
	appt, err := h.booking.Book(r.Context(), booking.Request{
		RequesterID: caller.Subject,
		ServiceType: req.ServiceType,
		Date:        req.Date,
		Time:        req.Time,
		Address:     req.Address,
		Comments:    req.Comments,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/appointments/"+appt.ID)
	httpx.WriteJSON(w, http.StatusCreated, h.toResponse(appt))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, h.logger, apperr.InvalidRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}
	caller := identity(r)
	appts, err := h.booking.List(r.Context(), caller.Subject, caller.Role, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, h.toResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

// visible loads the {id} appointment, reporting not found when the caller
// may not see it.
func (h *Handler) visible(w http.ResponseWriter, r *http.Request) (model.Appointment, bool) {
	caller := identity(r)
	appt, err := h.booking.Get(r.Context(), chi.URLParam(r, "id"), caller.Subject, caller.Role)
	if err != nil {
		writeError(w, r, h.logger, err)
		return model.Appointment{}, false
	}
	return appt, true
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.visible(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.toResponse(appt))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.visible(w, r)
	if !ok {
		return
	}
	changes, err := h.workflow.History(r.Context(), appt.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]historyItem, 0, len(changes))
	for _, c := range changes {
		out = append(out, historyItem{
			From:      c.From,
			To:        c.To,
			ActorRole: c.ActorRole,
			ChangedAt: c.ChangedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment_id": appt.ID, "history": out})
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, apperr.InvalidRequest("invalid json body"))
		return
	}
	appt, ok := h.visible(w, r)
	if !ok {
		return
	}
	updated, err := h.workflow.Transition(r.Context(), appt.ID, model.Status(req.Status), identity(r).Role)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.toResponse(updated))
}

func (h *Handler) Notarize(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.visible(w, r)
	if !ok {
		return
	}
	rec, err := h.notary.Notarize(r.Context(), appt.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toLedgerResponse(rec))
}

func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.visible(w, r)
	if !ok {
		return
	}
	rec, err := h.notary.Record(r.Context(), appt.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := toLedgerResponse(rec)
	if r.URL.Query().Get("verify") == "true" {
		v, err := h.notary.Verify(r.Context(), appt.ID)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		resp.Verified = &v.Match
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func toLedgerResponse(rec model.LedgerRecord) ledgerResponse {
	return ledgerResponse{
		AppointmentID: rec.AppointmentID,
		TxReference:   rec.TxReference,
		Digest:        rec.Digest,
		SubmittedAt:   rec.SubmittedAt.UTC().Format(time.RFC3339),
		ConfirmedAt:   rec.ConfirmedAt.UTC().Format(time.RFC3339),
	}
}
