package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/R3E-Network/moot-session-engine/domain/assignment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentStoreWithSessionLockLocksSessionRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM sessions WHERE id = \$1 FOR UPDATE`).
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("session-1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM participants`).
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	s := NewAssignmentStore(db)
	var count int
	err = s.WithSessionLock(context.Background(), "session-1", func(ctx context.Context) error {
		count, err = s.CountActiveParticipants(ctx, "session-1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentStoreInsertParticipantTranslatesUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	side := assignment.SidePetitioner
	speaker := 1
	mock.ExpectExec(`INSERT INTO participants`).
		WillReturnError(&pq.Error{Code: "23505"})

	s := NewAssignmentStore(db)
	err = s.InsertParticipant(context.Background(), assignment.Participant{
		ID: "p1", SessionID: "session-1", UserID: "u1", Side: &side, SpeakerNumber: &speaker,
	})
	assert.Error(t, err)
}
