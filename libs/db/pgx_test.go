package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassifiers(t *testing.T) {
	slot := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "appointments_slot_uniq"})
	assert.True(t, IsUniqueViolation(slot, ""))
	assert.True(t, IsUniqueViolation(slot, "appointments_slot_uniq"))
	assert.False(t, IsUniqueViolation(slot, "other"))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23P01"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("plain"), ""))

	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsForeignKeyViolation(slot))

	assert.True(t, IsNotFound(fmt.Errorf("get: %w", pgx.ErrNoRows)))
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{MaxConns: 2, MinConns: 5}.orDefault()
	assert.EqualValues(t, 2, o.MaxConns)
	assert.EqualValues(t, 2, o.MinConns, "min is capped at max")
	assert.Equal(t, 30*time.Minute, o.MaxConnLifetime)
	assert.Equal(t, defaultOptions, Options{}.orDefault())
}

func TestReadyCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, ReadyCheck(mock)(context.Background()))
	assert.Error(t, ReadyCheck(nil)(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
