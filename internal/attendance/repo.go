package attendance

import (
	"context"
	"database/sql"
	"errors"

	"faceattend/internal/apperrors"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, user_id, user_name, roll_number, date, time, status, created_at`

// Append inserts the record unless the user already has one for the date,
// in which case the existing record is returned unchanged.
func (r *Repository) Append(ctx context.Context, rec Record) (Record, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, user_id, user_name, roll_number, date, time, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id, date) DO NOTHING
	`, rec.ID, rec.UserID, rec.UserName, rec.RollNumber, rec.Date, rec.Time, rec.Status, rec.CreatedAt)
	if err != nil {
		return Record{}, false, apperrors.Wrap(err, apperrors.ErrStore.Code, apperrors.ErrStore.Status, "append attendance record")
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, apperrors.Wrap(err, apperrors.ErrStore.Code, apperrors.ErrStore.Status, "append attendance record")
	}
	if inserted > 0 {
		return rec, true, nil
	}

	existing, err := r.findByUserAndDate(ctx, rec.UserID, rec.Date)
	if err != nil {
		return Record{}, false, apperrors.Wrap(err, apperrors.ErrStore.Code, apperrors.ErrStore.Status, "load existing record")
	}
	return *existing, false, nil
}

func (r *Repository) findByUserAndDate(ctx context.Context, userID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = $1 AND date = $2
	`, userID, date)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.UserName, &rec.RollNumber, &rec.Date, &rec.Time, &rec.Status, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("record vanished after conflict")
		}
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = $1
		ORDER BY date DESC, time DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *Repository) ListByDate(ctx context.Context, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE date = $1
		ORDER BY time
	`, date)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *Repository) CountByDate(ctx context.Context, date string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_records WHERE date = $1
	`, date).Scan(&n)
	return n, err
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.UserName, &rec.RollNumber, &rec.Date, &rec.Time, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
