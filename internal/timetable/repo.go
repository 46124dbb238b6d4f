package timetable

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Assignments(ctx context.Context) (map[string]Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, slot, teacher_id, subject_id, status FROM timetable_cells
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Assignment)
	for rows.Next() {
		var day, slot string
		var a Assignment
		if err := rows.Scan(&day, &slot, &a.TeacherID, &a.SubjectID, &a.Status); err != nil {
			return nil, err
		}
		out[CellKey(day, slot)] = a
	}
	return out, rows.Err()
}

func (r *Repository) PutAssignment(ctx context.Context, day, slot string, a Assignment) error {
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timetable_cells (day, slot, teacher_id, subject_id, status)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (day, slot) DO UPDATE SET
			teacher_id = EXCLUDED.teacher_id,
			subject_id = EXCLUDED.subject_id,
			status = EXCLUDED.status,
			updated_at = NOW()
	`, day, slot, a.TeacherID, a.SubjectID, a.Status)
	return err
}

func (r *Repository) GetAssignment(ctx context.Context, day, slot string) (*Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT teacher_id, subject_id, status FROM timetable_cells
		WHERE day = $1 AND slot = $2
	`, day, slot)
	var a Assignment
	if err := row.Scan(&a.TeacherID, &a.SubjectID, &a.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) AppendEvent(ctx context.Context, ev Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lecture_events (id, day, slot, teacher_id, subject_id, status, date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ev.ID, ev.Day, ev.Slot, ev.TeacherID, ev.SubjectID, ev.Status, ev.Date)
	return err
}

func (r *Repository) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, day, slot, teacher_id, subject_id, status, date
		FROM lecture_events ORDER BY date, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Day, &ev.Slot, &ev.TeacherID, &ev.SubjectID, &ev.Status, &ev.Date); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repository) CurrentStatus(ctx context.Context, day, slot string) (string, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT status FROM lecture_events
		WHERE day = $1 AND slot = $2
		ORDER BY date DESC, id DESC
		LIMIT 1
	`, day, slot)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StatusScheduled, nil
		}
		return "", err
	}
	if strings.TrimSpace(status) == "" {
		return StatusScheduled, nil
	}
	return status, nil
}
