package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/capture"
	"faceattend/internal/config"
	"faceattend/internal/faceclient"
	"faceattend/internal/identity"
	"faceattend/internal/localstore"
	"faceattend/internal/recorder"
	"faceattend/internal/seed"
)

func newTestApp(t *testing.T) (*app, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.App{
		Env:             "test",
		RateLimitPerMin: 10000,
	}
	mem := localstore.New()
	a := &app{
		cfg:       cfg,
		log:       zap.NewNop(),
		users:     mem.Users(),
		records:   mem.Attendance(),
		slots:     mem.Timetable(),
		face:      faceclient.New("", true),
		flows:     recorder.NewRegistry(),
		startedAt: time.Now(),
	}
	a.gate = identity.NewGate(a.users, identity.NewMemorySessions(), zap.NewNop(), "faceattend-test", "test-signing-key", time.Hour)

	recCfg := recorder.Config{
		SampleInterval: 5 * time.Millisecond,
		CountdownTick:  5 * time.Millisecond,
		CountdownTicks: 2,
	}
	a.newFlow = func(user identity.PublicUser) *recorder.Recorder {
		return recorder.New(user, capture.PushSource{}, a.face, a.records, nil, a.log, recCfg)
	}

	_, err := seed.Users(context.Background(), a.users, a.log)
	require.NoError(t, err)

	router := a.router()
	t.Cleanup(a.flows.CloseAll)
	return a, router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func login(t *testing.T, router *gin.Engine, roll string) (token, userID string) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/auth/login", "", gin.H{
		"rollNumber": roll,
		"password":   seed.DemoPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	user := body["user"].(map[string]interface{})
	return body["token"].(string), user["id"].(string)
}

func TestLoginSuccessAndHomeView(t *testing.T) {
	_, router := newTestApp(t)

	w := doJSON(t, router, http.MethodPost, "/v1/auth/login", "", gin.H{
		"rollNumber": "CS009",
		"password":   seed.DemoPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "teacher-dashboard", body["home"])

	w = doJSON(t, router, http.MethodPost, "/v1/auth/login", "", gin.H{
		"rollNumber": "CS001",
		"password":   seed.DemoPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "home", decode(t, w)["home"])
}

func TestLoginBadCredentials(t *testing.T) {
	_, router := newTestApp(t)

	w := doJSON(t, router, http.MethodPost, "/v1/auth/login", "", gin.H{
		"rollNumber": "CS001",
		"password":   "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/auth/login", "", gin.H{
		"rollNumber": "CS001",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMeAndLogout(t *testing.T) {
	_, router := newTestApp(t)
	token, _ := login(t, router, "CS001")

	w := doJSON(t, router, http.MethodGet, "/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := decode(t, w)["user"].(map[string]interface{})
	assert.Equal(t, "CS001", user["rollNumber"])

	w = doJSON(t, router, http.MethodPost, "/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Logout again: still fine.
	w = doJSON(t, router, http.MethodPost, "/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeWithoutToken(t *testing.T) {
	_, router := newTestApp(t)
	w := doJSON(t, router, http.MethodGet, "/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterAndDuplicate(t *testing.T) {
	_, router := newTestApp(t)

	payload := gin.H{
		"name":       "New Student",
		"rollNumber": "CS042",
		"email":      "cs042@college.edu",
		"password":   "password123",
	}
	w := doJSON(t, router, http.MethodPost, "/v1/auth/register", "", payload)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/auth/register", "", payload)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func markAttendance(t *testing.T, router *gin.Engine, token, userID string) map[string]interface{} {
	t.Helper()

	w := doJSON(t, router, http.MethodPost, "/v1/attendance/sessions", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sessionID := decode(t, w)["sessionId"].(string)

	frame := base64.StdEncoding.EncodeToString([]byte(userID))
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/attendance/sessions/%s/frames", sessionID), token, gin.H{"frame": frame})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var snap map[string]interface{}
	require.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/v1/attendance/sessions/"+sessionID, token, nil)
		if w.Code != http.StatusOK {
			return false
		}
		snap = decode(t, w)["snapshot"].(map[string]interface{})
		return snap["state"] == string(recorder.StateCommitted)
	}, 2*time.Second, 10*time.Millisecond, "flow never committed")
	return snap
}

func TestAttendanceFlowCommits(t *testing.T) {
	_, router := newTestApp(t)
	token, userID := login(t, router, "CS001")

	snap := markAttendance(t, router, token, userID)
	record := snap["record"].(map[string]interface{})
	assert.Equal(t, "CS001", record["rollNumber"])
	assert.Equal(t, attendance.StatusPresent, record["status"])

	w := doJSON(t, router, http.MethodGet, "/v1/attendance", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode(t, w)["records"].([]interface{})
	require.Len(t, records, 1)
}

func TestAttendanceSecondCommitSameDay(t *testing.T) {
	_, router := newTestApp(t)
	token, userID := login(t, router, "CS001")

	first := markAttendance(t, router, token, userID)["record"].(map[string]interface{})
	second := markAttendance(t, router, token, userID)["record"].(map[string]interface{})
	assert.Equal(t, first["id"], second["id"], "one record per user per day")

	w := doJSON(t, router, http.MethodGet, "/v1/attendance", token, nil)
	records := decode(t, w)["records"].([]interface{})
	assert.Len(t, records, 1)
}

func TestAttendanceSessionOwnership(t *testing.T) {
	_, router := newTestApp(t)
	tokenA, _ := login(t, router, "CS001")
	tokenB, _ := login(t, router, "CS002")

	w := doJSON(t, router, http.MethodPost, "/v1/attendance/sessions", tokenA, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := decode(t, w)["sessionId"].(string)

	w = doJSON(t, router, http.MethodGet, "/v1/attendance/sessions/"+sessionID, tokenB, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/attendance/sessions/no-such-id", tokenA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/v1/attendance/sessions/"+sessionID, tokenA, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAttendanceRetryAfterMismatch(t *testing.T) {
	_, router := newTestApp(t)
	token, userID := login(t, router, "CS001")

	w := doJSON(t, router, http.MethodPost, "/v1/attendance/sessions", token, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := decode(t, w)["sessionId"].(string)

	// A frame carrying someone else's face fails the attempt.
	frame := base64.StdEncoding.EncodeToString([]byte("not-" + userID))
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/attendance/sessions/%s/frames", sessionID), token, gin.H{"frame": frame})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/v1/attendance/sessions/"+sessionID, token, nil)
		snap := decode(t, w)["snapshot"].(map[string]interface{})
		return snap["state"] == string(recorder.StateUnrecognized)
	}, 2*time.Second, 10*time.Millisecond)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/attendance/sessions/%s/retry", sessionID), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	frame = base64.StdEncoding.EncodeToString([]byte(userID))
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/attendance/sessions/%s/frames", sessionID), token, gin.H{"frame": frame})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/v1/attendance/sessions/"+sessionID, token, nil)
		snap := decode(t, w)["snapshot"].(map[string]interface{})
		return snap["state"] == string(recorder.StateCommitted)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAttendanceQueriesAreRoleGated(t *testing.T) {
	_, router := newTestApp(t)
	student, _ := login(t, router, "CS001")
	teacher, _ := login(t, router, "CS009")
	today := time.Now().UTC().Format(attendance.DateLayout)

	w := doJSON(t, router, http.MethodGet, "/v1/attendance?date="+today, student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/attendance?date="+today, teacher, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/attendance/summary?date="+today, student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/attendance/summary?date="+today, teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, today, body["date"])
}

func TestTimetableFlow(t *testing.T) {
	_, router := newTestApp(t)
	student, _ := login(t, router, "CS001")
	teacher, _ := login(t, router, "CS009")

	cell := gin.H{"teacherId": "t1", "subjectId": "algorithms"}
	w := doJSON(t, router, http.MethodPut, "/v1/timetable/monday/09:00", student, cell)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPut, "/v1/timetable/monday/09:00", teacher, cell)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "monday-09:00", decode(t, w)["key"])

	// Overwrite is last-write-wins.
	w = doJSON(t, router, http.MethodPut, "/v1/timetable/monday/09:00", teacher, gin.H{"teacherId": "t2", "subjectId": "databases"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/timetable", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cells := decode(t, w)["cells"].(map[string]interface{})
	got := cells["monday-09:00"].(map[string]interface{})
	assert.Equal(t, "databases", got["subjectId"])

	w = doJSON(t, router, http.MethodGet, "/v1/timetable/monday/09:00/status", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scheduled", decode(t, w)["status"])

	w = doJSON(t, router, http.MethodPost, "/v1/timetable/monday/09:00/status", teacher, gin.H{"status": "completed"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/timetable/monday/09:00/status", student, nil)
	assert.Equal(t, "completed", decode(t, w)["status"])

	// Logging status for an empty cell fails.
	w = doJSON(t, router, http.MethodPost, "/v1/timetable/friday/16:00/status", teacher, gin.H{"status": "completed"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Bad status values are rejected.
	w = doJSON(t, router, http.MethodPost, "/v1/timetable/monday/09:00/status", teacher, gin.H{"status": "postponed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	_, router := newTestApp(t)
	student, _ := login(t, router, "CS001")
	admin, _ := login(t, router, "CS010")

	w := doJSON(t, router, http.MethodGet, "/v1/admin/users", student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/admin/users", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode(t, w)["users"].([]interface{})
	assert.Len(t, users, 10)

	w = doJSON(t, router, http.MethodGet, "/v1/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(8), stats["students"])
	assert.Equal(t, float64(1), stats["teachers"])
}

func TestHealthEndpoints(t *testing.T) {
	_, router := newTestApp(t)

	w := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Memory backends have no db or redis to probe; face is in skip mode.
	w = doJSON(t, router, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
