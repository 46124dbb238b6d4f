package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"faceattend/internal/identity"
	"faceattend/internal/localstore"
)

func TestUsersSeedsRoster(t *testing.T) {
	store := localstore.New()
	ctx := context.Background()

	users, err := Users(ctx, store.Users(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, users, 10)

	cs001, err := store.Users().FindByRollNumber(ctx, "CS001")
	require.NoError(t, err)
	require.NotNil(t, cs001)
	assert.Equal(t, identity.RoleStudent, cs001.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cs001.PasswordHash), []byte(DemoPassword)))

	teachers, err := store.Users().CountByRole(ctx, identity.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 1, teachers)
	admins, err := store.Users().CountByRole(ctx, identity.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)
}

func TestUsersSeedIsIdempotent(t *testing.T) {
	store := localstore.New()
	ctx := context.Background()

	first, err := Users(ctx, store.Users(), zap.NewNop())
	require.NoError(t, err)
	second, err := Users(ctx, store.Users(), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID, "existing users are reused, not recreated")
	all, err := store.Users().List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestAttendanceSeedsTwoDays(t *testing.T) {
	store := localstore.New()
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	users, err := Users(ctx, store.Users(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, Attendance(ctx, store.Attendance(), users, now, zap.NewNop()))

	today, err := store.Attendance().CountByDate(ctx, "2025-03-10")
	require.NoError(t, err)
	assert.Greater(t, today, 0)

	yesterday, err := store.Attendance().CountByDate(ctx, "2025-03-09")
	require.NoError(t, err)
	assert.Greater(t, yesterday, 0)

	// Running the seed again adds nothing thanks to append-once.
	require.NoError(t, Attendance(ctx, store.Attendance(), users, now, zap.NewNop()))
	again, err := store.Attendance().CountByDate(ctx, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, today, again)
}
