package errs

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(CodeRaceCondition, "concurrent insert", base)

	assert.Equal(t, "[RACE_CONDITION] concurrent insert: boom", err.Error())
	assert.Equal(t, base, err.Unwrap())
}

func TestWithDetails(t *testing.T) {
	err := SessionFull().WithDetails("session_id", "s-1")
	assert.Equal(t, "s-1", err.Details["session_id"])
}

func TestIsAndAs(t *testing.T) {
	err := InvalidTransition("CREATED", "JUDGING", []string{"PREPARING", "CANCELLED"})

	assert.True(t, Is(err, CodeInvalidTransition))
	assert.False(t, Is(err, CodeForbidden))

	extracted, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"PREPARING", "CANCELLED"}, extracted.Details["allowed_next"])
}

func TestHTTPStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{SessionFull(), http.StatusConflict},
		{ValidationFailed("scores.framing", "out of range"), http.StatusBadRequest},
		{Forbidden("not faculty"), http.StatusForbidden},
		{errors.New("untyped"), http.StatusInternalServerError},
		{IncompleteTournament("no finalized evaluations"), http.StatusUnprocessableEntity},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatusFor(c.err))
	}
}

func TestDuplicateJoinMapsToSuccess(t *testing.T) {
	// spec.md §7: DUPLICATE_JOIN is "treated as success - idempotent".
	assert.Equal(t, http.StatusOK, httpStatus[CodeDuplicateJoin])
}
