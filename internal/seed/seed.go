// Package seed loads the demo roster and a few attendance records so a
// fresh deployment is usable immediately.
package seed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/identity"
)

// DemoPassword is shared by every seeded account.
const DemoPassword = "password123"

type demoUser struct {
	name string
	roll string
	role identity.Role
}

var roster = []demoUser{
	{"Aarav Sharma", "CS001", identity.RoleStudent},
	{"Diya Patel", "CS002", identity.RoleStudent},
	{"Arjun Kumar", "CS003", identity.RoleStudent},
	{"Ananya Singh", "CS004", identity.RoleStudent},
	{"Vihaan Gupta", "CS005", identity.RoleStudent},
	{"Ishita Verma", "CS006", identity.RoleStudent},
	{"Aditya Reddy", "CS007", identity.RoleStudent},
	{"Kavya Nair", "CS008", identity.RoleStudent},
	{"Prof. Rajesh Iyer", "CS009", identity.RoleTeacher},
	{"Admin User", "CS010", identity.RoleAdmin},
}

// Users inserts the demo roster, skipping any roll number already
// present so repeated startups stay idempotent.
func Users(ctx context.Context, users identity.Store, log *zap.Logger) ([]identity.User, error) {
	out := make([]identity.User, 0, len(roster))
	for _, d := range roster {
		existing, err := users.FindByRollNumber(ctx, d.roll)
		if err != nil {
			return nil, fmt.Errorf("seed lookup %s: %w", d.roll, err)
		}
		if existing != nil {
			out = append(out, *existing)
			continue
		}

		email := fmt.Sprintf("%s@college.edu", d.roll)
		u, err := identity.NewUser(d.name, d.roll, email, DemoPassword, d.role)
		if err != nil {
			return nil, fmt.Errorf("seed build %s: %w", d.roll, err)
		}
		if err := users.Insert(ctx, u); err != nil {
			return nil, fmt.Errorf("seed insert %s: %w", d.roll, err)
		}
		out = append(out, u)
	}
	log.Info("demo roster seeded", zap.Int("users", len(out)))
	return out, nil
}

// Attendance marks a few students present today and yesterday. The
// store's append-once rule makes this idempotent too.
func Attendance(ctx context.Context, records attendance.Store, users []identity.User, now time.Time, log *zap.Logger) error {
	days := []time.Time{now, now.AddDate(0, 0, -1)}
	seeded := 0
	for di, day := range days {
		// A different slice of the roster each day, students only.
		for i, u := range users {
			if u.Role != identity.RoleStudent || (i+di)%2 != 0 {
				continue
			}
			at := time.Date(day.Year(), day.Month(), day.Day(), 9, 5+i, 0, 0, day.Location())
			rec, err := attendance.NewRecord(u.Public(), at)
			if err != nil {
				return fmt.Errorf("seed record %s: %w", u.RollNumber, err)
			}
			_, inserted, err := records.Append(ctx, rec)
			if err != nil {
				return fmt.Errorf("seed append %s: %w", u.RollNumber, err)
			}
			if inserted {
				seeded++
			}
		}
	}
	log.Info("demo attendance seeded", zap.Int("records", seeded))
	return nil
}
