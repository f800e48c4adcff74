package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v with the given status. Encoding happens before the
// header is sent so a marshal failure still produces a clean 500.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

// ErrorBody is the error half of every failure response.
type ErrorBody struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// ErrorResponse is the envelope written for failed requests.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// WriteError writes the error envelope, tagging it with the request id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, kind, reason string, retryable bool) {
	WriteJSON(w, status, ErrorResponse{
		Error:     ErrorBody{Kind: kind, Reason: reason, Retryable: retryable},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// DecodeJSON decodes a request body, rejecting unknown fields and
// trailing data.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

type httpxError string

func (e httpxError) Error() string { return string(e) }

const errTrailingData = httpxError("unexpected data after json body")
