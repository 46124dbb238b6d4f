package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/apperrors"
	"faceattend/internal/identity"
)

// StatusPresent is the only status a committed record can carry.
const StatusPresent = "present"

// DateLayout is the calendar-date form records are keyed by.
const DateLayout = "2006-01-02"

// Record is one attendance entry. Records are append-only: never mutated
// or deleted once committed.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	RollNumber string    `json:"rollNumber"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewRecord snapshots the user's public fields at write time.
func NewRecord(user identity.PublicUser, at time.Time) (Record, error) {
	if user.ID == "" || user.RollNumber == "" {
		return Record{}, apperrors.Clone(apperrors.ErrValidation, "record requires a user")
	}
	at = at.UTC()
	return Record{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		UserName:   user.Name,
		RollNumber: user.RollNumber,
		Date:       at.Format(DateLayout),
		Time:       at.Format("15:04:05"),
		Status:     StatusPresent,
		CreatedAt:  at,
	}, nil
}

// Store is the append-only record collection.
//
// Append enforces at most one record per (userId, date) at the store
// itself, in every entry point: appending on a day the user is already
// marked returns the existing canonical record with inserted=false.
type Store interface {
	Append(ctx context.Context, rec Record) (Record, bool, error)
	// ListByUser returns the user's records sorted by date descending.
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	ListByDate(ctx context.Context, date string) ([]Record, error)
	CountByDate(ctx context.Context, date string) (int, error)
}
