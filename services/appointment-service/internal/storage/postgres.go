package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/pestledger/libs/db"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/outbox"
)

const slotConstraint = "appointments_slot_uniq"

const appointmentColumns = `id, requester_id, service_type, scheduled_at, address, comments, status,
	COALESCE(ledger_ref, ''), created_at, updated_at`

// Postgres is the production Store. Every mutation commits together with
// its outbox event.
type Postgres struct {
	conn db.Conn
}

func NewPostgres(conn db.Conn) *Postgres {
	return &Postgres{conn: conn}
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.RequesterID, &a.ServiceType, &a.ScheduledAt, &a.Address, &a.Comments,
		&status, &a.LedgerRef, &a.CreatedAt, &a.UpdatedAt)
	a.Status = model.Status(status)
	return a, err
}

// validID filters ids that cannot exist so they read as not found rather
// than as a uuid syntax error from the database.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (p *Postgres) CreateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, requester_id, service_type, scheduled_at, address, comments, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, appt.ID, appt.RequesterID, appt.ServiceType, appt.ScheduledAt, appt.Address, appt.Comments,
		string(appt.Status), appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, slotConstraint) {
			return model.Appointment{}, ErrSlotTaken
		}
		return model.Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}

	evt, err := outbox.Booked(appt)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := outbox.Append(ctx, tx, evt); err != nil {
		return model.Appointment{}, fmt.Errorf("insert outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if db.IsUniqueViolation(err, slotConstraint) {
			return model.Appointment{}, ErrSlotTaken
		}
		return model.Appointment{}, fmt.Errorf("commit: %w", err)
	}
	return appt, nil
}

func (p *Postgres) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, ErrNotFound
	}
	appt, err := scanAppointment(p.conn.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if db.IsNotFound(err) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (p *Postgres) ListAppointments(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	rows, err := p.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR requester_id = $1)
		ORDER BY scheduled_at, id
		LIMIT $2
	`, f.RequesterID, listLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListOccupied(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := p.conn.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE status <> 'cancelled'
			AND scheduled_at >= $1
			AND scheduled_at < $2
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list occupied: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateStatus(ctx context.Context, change model.StatusChange) (model.Appointment, error) {
	if !validID(change.AppointmentID) {
		return model.Appointment{}, ErrNotFound
	}
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns,
		change.AppointmentID, string(change.From), string(change.To), change.ChangedAt))
	if db.IsNotFound(err) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, change.AppointmentID).Scan(&exists); err != nil {
			return model.Appointment{}, fmt.Errorf("check appointment: %w", err)
		}
		if !exists {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, ErrStatusConflict
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("update status: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_status_history (appointment_id, from_status, to_status, actor_role, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, change.AppointmentID, string(change.From), string(change.To), change.ActorRole, change.ChangedAt)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("insert status history: %w", err)
	}

	evt, err := outbox.StatusChanged(change)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := outbox.Append(ctx, tx, evt); err != nil {
		return model.Appointment{}, fmt.Errorf("insert outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, fmt.Errorf("commit: %w", err)
	}
	return appt, nil
}

func (p *Postgres) ListStatusHistory(ctx context.Context, id string) ([]model.StatusChange, error) {
	if _, err := p.GetAppointment(ctx, id); err != nil {
		return nil, err
	}
	rows, err := p.conn.Query(ctx, `
		SELECT appointment_id, from_status, to_status, actor_role, changed_at
		FROM appointment_status_history
		WHERE appointment_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	var out []model.StatusChange
	for rows.Next() {
		var c model.StatusChange
		var from, to string
		if err := rows.Scan(&c.AppointmentID, &from, &to, &c.ActorRole, &c.ChangedAt); err != nil {
			return nil, err
		}
		c.From, c.To = model.Status(from), model.Status(to)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) ClaimNotarization(ctx context.Context, id, digest, owner string, now, leaseUntil time.Time) (Claim, error) {
	if !validID(id) {
		return Claim{}, ErrNotFound
	}
	// The row is only inserted for an unanchored appointment. An existing
	// claim row serializes claimants with SetLedgerRef, which marks it
	// anchored in the same transaction that sets ledger_ref.
	c := Claim{AppointmentID: id}
	var submittedAt *time.Time
	err := p.conn.QueryRow(ctx, `
		INSERT INTO notarization_claims (appointment_id, owner, digest, lease_until)
		SELECT id, $2, $3, $4 FROM appointments WHERE id = $1 AND ledger_ref IS NULL
		ON CONFLICT (appointment_id) DO UPDATE
		SET owner = EXCLUDED.owner, lease_until = EXCLUDED.lease_until
		WHERE NOT notarization_claims.anchored
			AND (notarization_claims.owner = EXCLUDED.owner OR notarization_claims.lease_until <= $5)
		RETURNING owner, digest, COALESCE(tx_reference, ''), submitted_at, lease_until
	`, id, owner, digest, leaseUntil, now).Scan(&c.Owner, &c.Digest, &c.TxReference, &submittedAt, &c.LeaseUntil)
	if db.IsNotFound(err) {
		return Claim{}, p.whyUnclaimed(ctx, id)
	}
	if db.IsForeignKeyViolation(err) {
		return Claim{}, ErrNotFound
	}
	if err != nil {
		return Claim{}, fmt.Errorf("claim notarization: %w", err)
	}
	if submittedAt != nil {
		c.SubmittedAt = *submittedAt
	}
	return c, nil
}

// whyUnclaimed explains an upsert that returned no row.
func (p *Postgres) whyUnclaimed(ctx context.Context, id string) error {
	var anchored bool
	err := p.conn.QueryRow(ctx, `SELECT ledger_ref IS NOT NULL FROM appointments WHERE id = $1`, id).Scan(&anchored)
	switch {
	case db.IsNotFound(err):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("claim notarization: %w", err)
	case anchored:
		return ErrLedgerRefSet
	default:
		return ErrClaimHeld
	}
}

func (p *Postgres) RecordSubmission(ctx context.Context, id, owner, txRef string, at time.Time) error {
	tag, err := p.conn.Exec(ctx, `
		UPDATE notarization_claims
		SET tx_reference = $3, submitted_at = $4
		WHERE appointment_id = $1 AND owner = $2 AND tx_reference IS NULL AND NOT anchored
	`, id, owner, txRef, at)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimHeld
	}
	return nil
}

func (p *Postgres) ReleaseNotarization(ctx context.Context, id, owner string, discardTx bool) error {
	_, err := p.conn.Exec(ctx, `
		UPDATE notarization_claims
		SET owner = '',
			lease_until = 'epoch',
			tx_reference = CASE WHEN $3 THEN NULL ELSE tx_reference END,
			submitted_at = CASE WHEN $3 THEN NULL ELSE submitted_at END
		WHERE appointment_id = $1 AND owner = $2
	`, id, owner, discardTx)
	if err != nil {
		return fmt.Errorf("release notarization: %w", err)
	}
	return nil
}

func (p *Postgres) SetLedgerRef(ctx context.Context, rec model.LedgerRecord) (model.LedgerRecord, error) {
	if !validID(rec.AppointmentID) {
		return model.LedgerRecord{}, ErrNotFound
	}
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET ledger_ref = $2, updated_at = $3
		WHERE id = $1 AND ledger_ref IS NULL
	`, rec.AppointmentID, rec.TxReference, rec.ConfirmedAt)
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("set ledger ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		existing, err := p.GetLedgerRecord(ctx, rec.AppointmentID)
		if err != nil {
			return model.LedgerRecord{}, err
		}
		return existing, ErrLedgerRefSet
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_records (appointment_id, tx_reference, digest, submitted_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.AppointmentID, rec.TxReference, rec.Digest, rec.SubmittedAt, rec.ConfirmedAt)
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("insert ledger record: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE notarization_claims
		SET anchored = true, owner = '', lease_until = 'infinity'
		WHERE appointment_id = $1
	`, rec.AppointmentID); err != nil {
		return model.LedgerRecord{}, fmt.Errorf("retire claim: %w", err)
	}

	evt, err := outbox.Notarized(rec)
	if err != nil {
		return model.LedgerRecord{}, err
	}
	if err := outbox.Append(ctx, tx, evt); err != nil {
		return model.LedgerRecord{}, fmt.Errorf("insert outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.LedgerRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// GetLedgerRecord returns ErrNotFound both for an unknown appointment and
// for one that has not been notarized.
func (p *Postgres) GetLedgerRecord(ctx context.Context, id string) (model.LedgerRecord, error) {
	if !validID(id) {
		return model.LedgerRecord{}, ErrNotFound
	}
	var rec model.LedgerRecord
	err := p.conn.QueryRow(ctx, `
		SELECT appointment_id, tx_reference, digest, submitted_at, confirmed_at
		FROM ledger_records
		WHERE appointment_id = $1
	`, id).Scan(&rec.AppointmentID, &rec.TxReference, &rec.Digest, &rec.SubmittedAt, &rec.ConfirmedAt)
	if db.IsNotFound(err) {
		return model.LedgerRecord{}, ErrNotFound
	}
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("get ledger record: %w", err)
	}
	return rec, nil
}
