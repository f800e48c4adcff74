package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

var apptColumns = []string{"id", "requester_id", "service_type", "scheduled_at", "address", "comments", "status", "ledger_ref", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresCreateAppointment(t *testing.T) {
	mock := newMock(t)
	appt := pendingAt(uuid.NewString(), slot)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(appt.ID, appt.RequesterID, appt.ServiceType, appt.ScheduledAt, appt.Address, appt.Comments, "pending", appt.CreatedAt, appt.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), appt.ID, "appointment.booked.v1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, err := NewPostgres(mock).CreateAppointment(context.Background(), appt)
	require.NoError(t, err)
	assert.Equal(t, appt, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateAppointmentSlotTaken(t *testing.T) {
	mock := newMock(t)
	appt := pendingAt(uuid.NewString(), slot)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_slot_uniq"})
	mock.ExpectRollback()

	_, err := NewPostgres(mock).CreateAppointment(context.Background(), appt)
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStatus(t *testing.T) {
	mock := newMock(t)
	id := uuid.NewString()
	changedAt := slot.Add(-24 * time.Hour)
	change := model.StatusChange{AppointmentID: id, From: model.StatusPending, To: model.StatusApproved, ActorRole: "admin", ChangedAt: changedAt}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, "pending", "approved", changedAt).
		WillReturnRows(pgxmock.NewRows(apptColumns).
			AddRow(id, "u-1", "termitas", slot, "Calle 1", "", "approved", "", changedAt, changedAt))
	mock.ExpectExec("INSERT INTO appointment_status_history").
		WithArgs(id, "pending", "approved", "admin", changedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), id, "appointment.status_changed.v1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appt, err := NewPostgres(mock).UpdateStatus(context.Background(), change)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, appt.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStatusConflict(t *testing.T) {
	mock := newMock(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, "pending", "approved", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(apptColumns))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := NewPostgres(mock).UpdateStatus(context.Background(), model.StatusChange{
		AppointmentID: id, From: model.StatusPending, To: model.StatusApproved, ActorRole: "admin", ChangedAt: slot,
	})
	assert.ErrorIs(t, err, ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetLedgerRefAlreadySet(t *testing.T) {
	mock := newMock(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(id, "0x02", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()
	mock.ExpectQuery("FROM ledger_records").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"appointment_id", "tx_reference", "digest", "submitted_at", "confirmed_at"}).
			AddRow(id, "0x01", "aa", slot, slot))

	got, err := NewPostgres(mock).SetLedgerRef(context.Background(), model.LedgerRecord{AppointmentID: id, TxReference: "0x02", ConfirmedAt: slot})
	assert.ErrorIs(t, err, ErrLedgerRefSet)
	assert.Equal(t, "0x01", got.TxReference)
	require.NoError(t, mock.ExpectationsWereMet())
}

var claimColumns = []string{"owner", "digest", "tx_reference", "submitted_at", "lease_until"}

func TestPostgresClaimNotarizationRefusals(t *testing.T) {
	cases := map[string]struct {
		rows *pgxmock.Rows
		want error
	}{
		"anchored":     {rows: pgxmock.NewRows([]string{"anchored"}).AddRow(true), want: ErrLedgerRefSet},
		"lease held":   {rows: pgxmock.NewRows([]string{"anchored"}).AddRow(false), want: ErrClaimHeld},
		"no such appt": {rows: pgxmock.NewRows([]string{"anchored"}), want: ErrNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			mock := newMock(t)
			id := uuid.NewString()
			lease := slot.Add(time.Minute)

			mock.ExpectQuery("INSERT INTO notarization_claims").
				WithArgs(id, "owner-b", "dd", lease, slot).
				WillReturnRows(pgxmock.NewRows(claimColumns))
			mock.ExpectQuery("SELECT ledger_ref IS NOT NULL").
				WithArgs(id).
				WillReturnRows(tc.rows)

			_, err := NewPostgres(mock).ClaimNotarization(context.Background(), id, "dd", "owner-b", slot, lease)
			assert.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresSetLedgerRefRetiresClaim(t *testing.T) {
	mock := newMock(t)
	id := uuid.NewString()
	rec := model.LedgerRecord{AppointmentID: id, TxReference: "0x01", Digest: "aa", SubmittedAt: slot, ConfirmedAt: slot}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(id, "0x01", slot).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO ledger_records").
		WithArgs(id, "0x01", "aa", slot, slot).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("SET anchored = true").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), id, "appointment.notarized.v1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, err := NewPostgres(mock).SetLedgerRef(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordSubmissionLostClaim(t *testing.T) {
	mock := newMock(t)
	id := uuid.NewString()

	mock.ExpectExec("UPDATE notarization_claims").
		WithArgs(id, "owner-a", "0xabc", slot).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewPostgres(mock).RecordSubmission(context.Background(), id, "owner-a", "0xabc", slot)
	assert.ErrorIs(t, err, ErrClaimHeld)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMalformedIDIsNotFound(t *testing.T) {
	mock := newMock(t)
	_, err := NewPostgres(mock).GetAppointment(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
