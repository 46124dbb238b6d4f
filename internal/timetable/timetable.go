package timetable

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/apperrors"
)

// Lecture status events. "scheduled" is the implicit state of a slot with
// no events.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusAbsent    = "absent"
	StatusCancelled = "cancelled"
)

// Assignment maps a (day, slot) cell to a teacher and subject.
// The mapping is last-write-wins; there is no conflict resolution.
type Assignment struct {
	TeacherID string `json:"teacherId"`
	SubjectID string `json:"subjectId"`
	Status    string `json:"status"`
}

// Event is one lecture-status entry in the append-only log.
type Event struct {
	ID        string `json:"id"`
	Day       string `json:"day"`
	Slot      string `json:"slot"`
	TeacherID string `json:"teacherId"`
	SubjectID string `json:"subjectId"`
	Status    string `json:"status"`
	Date      string `json:"date"`
}

// CellKey is the "<day>-<slot>" key assignments are stored under.
func CellKey(day, slot string) string {
	return fmt.Sprintf("%s-%s", day, slot)
}

// NewEvent stamps a status event for a scheduled lecture.
func NewEvent(day, slot string, a Assignment, status string, at time.Time) (Event, error) {
	switch status {
	case StatusScheduled, StatusCompleted, StatusAbsent, StatusCancelled:
	default:
		return Event{}, apperrors.Clone(apperrors.ErrValidation, "unknown lecture status")
	}
	if day == "" || slot == "" {
		return Event{}, apperrors.Clone(apperrors.ErrValidation, "day and slot required")
	}
	return Event{
		ID:        uuid.NewString(),
		Day:       day,
		Slot:      slot,
		TeacherID: a.TeacherID,
		SubjectID: a.SubjectID,
		Status:    status,
		Date:      at.UTC().Format("2006-01-02"),
	}, nil
}

// Store persists the assignment map and the lecture event log.
type Store interface {
	Assignments(ctx context.Context) (map[string]Assignment, error)
	// PutAssignment overwrites the cell unconditionally.
	PutAssignment(ctx context.Context, day, slot string, a Assignment) error
	GetAssignment(ctx context.Context, day, slot string) (*Assignment, error)
	AppendEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context) ([]Event, error)
	// CurrentStatus is the latest logged status for the cell, or
	// "scheduled" when the log has none.
	CurrentStatus(ctx context.Context, day, slot string) (string, error)
}
