package timetable

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/apperrors"
)

func TestCellKey(t *testing.T) {
	assert.Equal(t, "monday-09:00", CellKey("monday", "09:00"))
}

func TestNewEventValidStatuses(t *testing.T) {
	a := Assignment{TeacherID: "t1", SubjectID: "math"}
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for _, status := range []string{StatusScheduled, StatusCompleted, StatusAbsent, StatusCancelled} {
		ev, err := NewEvent("monday", "09:00", a, status, at)
		require.NoError(t, err, status)
		assert.Equal(t, status, ev.Status)
		assert.Equal(t, "2025-03-10", ev.Date)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestNewEventRejectsBadInput(t *testing.T) {
	a := Assignment{TeacherID: "t1", SubjectID: "math"}
	now := time.Now()

	_, err := NewEvent("monday", "09:00", a, "postponed", now)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrValidation.Code, apperrors.FromError(err).Code)

	_, err = NewEvent("", "09:00", a, StatusCompleted, now)
	require.Error(t, err)

	_, err = NewEvent("monday", "", a, StatusCompleted, now)
	require.Error(t, err)
}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db), mock
}

func TestPutAssignmentUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO timetable_cells").
		WithArgs("monday", "09:00", "t1", "math", StatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Empty status defaults to scheduled before the write.
	err := repo.PutAssignment(context.Background(), "monday", "09:00", Assignment{TeacherID: "t1", SubjectID: "math"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAssignmentMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM timetable_cells").
		WithArgs("monday", "09:00").
		WillReturnRows(sqlmock.NewRows([]string{"teacher_id", "subject_id", "status"}))

	a, err := repo.GetAssignment(context.Background(), "monday", "09:00")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestCurrentStatusDefaultsToScheduled(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT status FROM lecture_events").
		WithArgs("monday", "09:00").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	status, err := repo.CurrentStatus(context.Background(), "monday", "09:00")
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, status)
}

func TestCurrentStatusReadsLatest(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT status FROM lecture_events").
		WithArgs("monday", "09:00").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(StatusCancelled))

	status, err := repo.CurrentStatus(context.Background(), "monday", "09:00")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)
}
