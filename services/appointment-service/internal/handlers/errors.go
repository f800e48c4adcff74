package handlers

import (
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/pestledger/libs/httpx"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/apperr"
)

const ledgerRetryAfter = "5"

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.Error("request failed", "request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
	} else {
		logger.Debug("request rejected", "request_id", httpx.RequestIDFromContext(r.Context()), "kind", kind, "err", err)
	}
	retryable := apperr.Retryable(err)
	if retryable {
		w.Header().Set("Retry-After", ledgerRetryAfter)
	}
	httpx.WriteError(w, r, apperr.HTTPStatus(kind), string(kind), apperr.Reason(err), retryable)
}
