// Package notary anchors appointments on a ledger exactly once.
package notary

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	otelx "github.com/md-rashed-zaman/pestledger/libs/otel"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/apperr"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/ledger"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/metrics"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/storage"
)

type Config struct {
	// MaxAttempts bounds Submit calls per Notarize.
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	ConfirmAttempts int
	LeaseTTL        time.Duration
	// AllowedStatuses restricts which statuses may be notarized. Empty
	// allows every status.
	AllowedStatuses []model.Status
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.ConfirmAttempts <= 0 {
		c.ConfirmAttempts = 10
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	return c
}

// Connector submits appointment digests to a Ledger and records the
// result write-once. Concurrent calls for one appointment share a single
// submission in-process; across processes the store's claim lease
// elects one submitter.
type Connector struct {
	store   storage.Store
	ledger  ledger.Ledger
	cfg     Config
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(store storage.Store, l ledger.Ledger, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		store:   store,
		ledger:  l,
		cfg:     cfg.withDefaults(),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Allows reports whether policy permits notarizing in status s.
func (c *Connector) Allows(s model.Status) bool {
	if len(c.cfg.AllowedStatuses) == 0 {
		return true
	}
	for _, a := range c.cfg.AllowedStatuses {
		if a == s {
			return true
		}
	}
	return false
}

// Notarize returns the appointment's LedgerRecord, submitting it to the
// ledger first if it has none. Repeated calls never submit twice.
func (c *Connector) Notarize(ctx context.Context, appointmentID string) (model.LedgerRecord, error) {
	// The submission outlives a caller that disconnects; it is bounded by
	// the retry policy instead.
	detached := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(appointmentID, func() (any, error) {
		return c.notarize(detached, appointmentID)
	})
	if err != nil {
		c.metrics.ObserveNotarization(string(apperr.KindOf(err)))
		return model.LedgerRecord{}, err
	}
	c.metrics.ObserveNotarization("ok")
	return v.(model.LedgerRecord), nil
}

func (c *Connector) notarize(ctx context.Context, id string) (model.LedgerRecord, error) {
	appt, err := c.store.GetAppointment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.LedgerRecord{}, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return model.LedgerRecord{}, err
	}
	if appt.LedgerRef != "" {
		return c.store.GetLedgerRecord(ctx, id)
	}
	if !c.Allows(appt.Status) {
		return model.LedgerRecord{}, apperr.Forbidden(fmt.Sprintf("appointments in status %s cannot be notarized", appt.Status))
	}

	digest, err := Digest(appt)
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("digest: %w", err)
	}

	owner := uuid.NewString()
	now := c.now()
	claim, err := c.store.ClaimNotarization(ctx, id, DigestHex(digest), owner, now, now.Add(c.cfg.LeaseTTL))
	switch {
	case errors.Is(err, storage.ErrLedgerRefSet):
		return c.store.GetLedgerRecord(ctx, id)
	case errors.Is(err, storage.ErrClaimHeld):
		return model.LedgerRecord{}, apperr.New(apperr.KindLedgerUnavailable, "notarization already in progress")
	case errors.Is(err, storage.ErrNotFound):
		return model.LedgerRecord{}, apperr.NotFound("appointment not found")
	case err != nil:
		return model.LedgerRecord{}, err
	}

	rec, err := c.submitAndConfirm(ctx, appt, digest, claim)
	if err != nil {
		discard := errors.Is(err, ledger.ErrRejected)
		if rerr := c.store.ReleaseNotarization(ctx, id, owner, discard); rerr != nil {
			c.logger.Error("release notarization claim failed", "appointment_id", id, "err", rerr)
		}
		if discard {
			return model.LedgerRecord{}, apperr.Wrap(apperr.KindLedgerUnavailable, "ledger rejected the transaction", err)
		}
		return model.LedgerRecord{}, apperr.Wrap(apperr.KindLedgerUnavailable, "ledger did not confirm the submission", err)
	}

	stored, err := c.store.SetLedgerRef(ctx, rec)
	if errors.Is(err, storage.ErrLedgerRefSet) {
		return stored, nil
	}
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("store ledger ref: %w", err)
	}
	c.logger.Info("appointment notarized", "appointment_id", id, "tx_reference", rec.TxReference)
	return stored, nil
}

func (c *Connector) submitAndConfirm(ctx context.Context, appt model.Appointment, digest [32]byte, claim storage.Claim) (model.LedgerRecord, error) {
	txRef, submittedAt := claim.TxReference, claim.SubmittedAt
	if txRef != "" {
		// A previous attempt already sent a transaction; only confirm it,
		// under the digest that transaction carried.
		if d, err := hex.DecodeString(claim.Digest); err == nil && len(d) == len(digest) {
			copy(digest[:], d)
		}
		c.logger.Info("resuming notarization", "appointment_id", appt.ID, "tx_reference", txRef)
	} else {
		ref, err := c.submit(ctx, ledger.Anchor{AppointmentID: appt.ID, Digest: digest})
		if err != nil {
			return model.LedgerRecord{}, err
		}
		txRef, submittedAt = ref, c.now()
		if err := c.store.RecordSubmission(ctx, appt.ID, claim.Owner, txRef, submittedAt); err != nil {
			c.logger.Error("record submission failed", "appointment_id", appt.ID, "tx_reference", txRef, "err", err)
			return model.LedgerRecord{}, err
		}
	}

	rcpt, err := c.confirm(ctx, txRef)
	if err != nil {
		return model.LedgerRecord{}, err
	}
	confirmedAt := rcpt.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = c.now()
	}
	return model.LedgerRecord{
		AppointmentID: appt.ID,
		TxReference:   txRef,
		Digest:        DigestHex(digest),
		SubmittedAt:   submittedAt.UTC(),
		ConfirmedAt:   confirmedAt.UTC(),
	}, nil
}

func (c *Connector) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	return b
}

func (c *Connector) submit(ctx context.Context, a ledger.Anchor) (string, error) {
	ctx, span := otelx.Tracer("notary").Start(ctx, "ledger.submit")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", a.AppointmentID))

	ref, err := backoff.Retry(ctx, func() (string, error) {
		start := time.Now()
		ref, err := c.ledger.Submit(ctx, a)
		c.metrics.ObserveLedgerCall("submit", outcome(err), time.Since(start).Seconds())
		if errors.Is(err, ledger.ErrRejected) {
			return "", backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Warn("ledger submit failed", "appointment_id", a.AppointmentID, "err", err)
		}
		return ref, err
	}, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(uint(c.cfg.MaxAttempts)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return "", err
	}
	span.SetAttributes(attribute.String("ledger.tx", ref))
	return ref, nil
}

func (c *Connector) confirm(ctx context.Context, txRef string) (ledger.Receipt, error) {
	ctx, span := otelx.Tracer("notary").Start(ctx, "ledger.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.tx", txRef))

	rcpt, err := backoff.Retry(ctx, func() (ledger.Receipt, error) {
		start := time.Now()
		rcpt, err := c.ledger.Receipt(ctx, txRef)
		c.metrics.ObserveLedgerCall("receipt", outcome(err), time.Since(start).Seconds())
		if errors.Is(err, ledger.ErrRejected) {
			return ledger.Receipt{}, backoff.Permanent(err)
		}
		return rcpt, err
	}, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(uint(c.cfg.ConfirmAttempts)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
	}
	return rcpt, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrPending):
		return "pending"
	case errors.Is(err, ledger.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}

// Record returns the stored LedgerRecord of a notarized appointment.
func (c *Connector) Record(ctx context.Context, appointmentID string) (model.LedgerRecord, error) {
	rec, err := c.store.GetLedgerRecord(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.LedgerRecord{}, apperr.NotFound("appointment is not notarized")
	}
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("get ledger record: %w", err)
	}
	return rec, nil
}

// Verification compares the digest recomputed from the stored appointment
// with the payload the ledger holds for its transaction.
type Verification struct {
	AppointmentID string `json:"appointment_id"`
	TxReference   string `json:"tx_reference"`
	Expected      string `json:"expected_digest"`
	OnLedger      string `json:"ledger_payload"`
	Match         bool   `json:"match"`
}

func (c *Connector) Verify(ctx context.Context, appointmentID string) (Verification, error) {
	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return Verification{}, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return Verification{}, err
	}
	rec, err := c.store.GetLedgerRecord(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return Verification{}, apperr.NotFound("appointment is not notarized")
	}
	if err != nil {
		return Verification{}, err
	}
	digest, err := Digest(appt)
	if err != nil {
		return Verification{}, err
	}
	payload, err := c.ledger.Payload(ctx, rec.TxReference)
	if err != nil {
		return Verification{}, apperr.Wrap(apperr.KindLedgerUnavailable, "ledger payload unavailable", err)
	}
	return Verification{
		AppointmentID: appointmentID,
		TxReference:   rec.TxReference,
		Expected:      DigestHex(digest),
		OnLedger:      hex.EncodeToString(payload),
		Match:         bytes.Equal(payload, digest[:]) && rec.Digest == DigestHex(digest),
	}, nil
}
