package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientctl/internal/config"
	"github.com/ehr/patientctl/internal/platform/auth"
	"github.com/ehr/patientctl/internal/platform/kv"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// testEnv points the CLI at backend with a file store in a temp dir and
// returns that dir.
func testEnv(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV", "development")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("BACKEND_URL", backend)
	t.Setenv("STORAGE_DRIVER", "file")
	t.Setenv("STORAGE_PATH", dir)
	t.Setenv("STORAGE_ENCRYPTION_KEY", "")
	t.Setenv("LOGOUT_PATH", "")
	t.Setenv("AUTH_FAILURE_STATUSES", "403")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func seedSession(t *testing.T, dir, access, refresh string) {
	t.Helper()
	store, err := kv.NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	err = store.MultiSet(context.Background(), map[string]string{
		auth.KeyUser:         `{"id":"42","user_id":"7","name":"Ada Lovelace","email":"ada@example.com"}`,
		auth.KeyAccessToken:  access,
		auth.KeyRefreshToken: refresh,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func stored(t *testing.T, dir, key string) (string, bool) {
	t.Helper()
	store, err := kv.NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	v, ok, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	return v, ok
}

func newBackend(t *testing.T, e *echo.Echo) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

const doctorsBody = `{"status":200,"data":[
	{"id":3,"first_name":"Grace","last_name":"Hopper","email":"grace@example.com","status":"ACTIVE","doctor_details":{"yrs_of_exp":12}},
	{"id":4,"first_name":"Alan","last_name":"Turing","email":"alan@example.com","status":"ACTIVE"}]}`

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestOutputFlag_Invalid(t *testing.T) {
	_, err := execute(t, "--output", "yaml", "doctors", "list")
	if err == nil || !strings.Contains(err.Error(), "--output") {
		t.Fatalf("expected --output error, got %v", err)
	}
}

func TestConfigError(t *testing.T) {
	testEnv(t, "not a url")
	if _, err := execute(t, "doctors", "list"); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestDoctorsList_Table(t *testing.T) {
	var patientID string
	e := echo.New()
	e.GET("/patient/myDoctors", func(c echo.Context) error {
		patientID = c.Request().Header.Get("Patient-Id")
		return c.String(http.StatusOK, doctorsBody)
	})
	testEnv(t, newBackend(t, e).URL)

	out, err := execute(t, "doctors", "list", "--search", "grace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Grace Hopper") || strings.Contains(out, "Alan Turing") {
		t.Errorf("unexpected table output:\n%s", out)
	}
	if !strings.HasPrefix(out, "ID") {
		t.Errorf("expected header row, got:\n%s", out)
	}
	if patientID != auth.AnonymousPatientID {
		t.Errorf("expected anonymous Patient-Id, got %q", patientID)
	}
}

func TestDoctorsList_JSON(t *testing.T) {
	e := echo.New()
	e.GET("/patient/myDoctors", func(c echo.Context) error {
		return c.String(http.StatusOK, doctorsBody)
	})
	testEnv(t, newBackend(t, e).URL)

	out, err := execute(t, "-o", "json", "doctors", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", out, err)
	}
	if len(got) != 2 || got[0]["first_name"] != "Grace" {
		t.Errorf("unexpected doctors %v", got)
	}
}

func TestSessionStatus_LoggedOut(t *testing.T) {
	testEnv(t, "http://127.0.0.1:1")

	out, err := execute(t, "session", "status", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st sessionStatus
	json.Unmarshal([]byte(out), &st)
	if st.LoggedIn || st.PatientID != "-1" || st.ExpiresAt != nil {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestSessionStatus_Restored(t *testing.T) {
	dir := testEnv(t, "http://127.0.0.1:1")
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	seedSession(t, dir, signedToken(t, exp), "R")

	out, err := execute(t, "session", "status", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "\"R\"") {
		t.Error("expected tokens never printed")
	}
	var st sessionStatus
	json.Unmarshal([]byte(out), &st)
	if !st.LoggedIn || st.PatientID != "42" || st.Email != "ada@example.com" {
		t.Errorf("unexpected status %+v", st)
	}
	if st.ExpiresAt == nil || !st.ExpiresAt.Equal(exp) || st.Expired {
		t.Errorf("unexpected expiry %+v", st.ExpiresAt)
	}
}

func TestSessionLogout(t *testing.T) {
	var signOuts int32
	e := echo.New()
	e.POST("/auth/logout", func(c echo.Context) error {
		atomic.AddInt32(&signOuts, 1)
		return c.NoContent(http.StatusNoContent)
	})
	dir := testEnv(t, newBackend(t, e).URL)
	t.Setenv("LOGOUT_PATH", "/auth/logout")
	seedSession(t, dir, "A", "R")

	out, err := execute(t, "session", "logout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Logged out.") {
		t.Errorf("unexpected output %q", out)
	}
	if atomic.LoadInt32(&signOuts) != 1 {
		t.Errorf("expected backend sign-out, got %d calls", signOuts)
	}
	for _, k := range []string{auth.KeyUser, auth.KeyAccessToken, auth.KeyRefreshToken} {
		if _, ok := stored(t, dir, k); ok {
			t.Errorf("expected %s removed", k)
		}
	}
}

func TestSessionRefresh_NotSignedIn(t *testing.T) {
	testEnv(t, "http://127.0.0.1:1")
	if _, err := execute(t, "session", "refresh"); err != errNotSignedIn {
		t.Fatalf("expected errNotSignedIn, got %v", err)
	}
}

func TestCall_RefreshesOnceOn403(t *testing.T) {
	var calls, refreshes int32
	e := echo.New()
	e.GET("/patient/getHealthData", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		if c.Request().Header.Get("Authorization") != "Bearer new" {
			return c.JSON(http.StatusForbidden, map[string]string{"message": "token expired"})
		}
		return c.String(http.StatusOK, `{"status":200,"data":[{"id":1,"weightInKgs":70}],"type":"`+c.QueryParam("type")+`"}`)
	})
	e.POST("/auth/refresh", func(c echo.Context) error {
		atomic.AddInt32(&refreshes, 1)
		return c.JSON(http.StatusOK, map[string]any{
			"data": map[string]string{"accessToken": "new", "refreshToken": "R2"},
		})
	})
	dir := testEnv(t, newBackend(t, e).URL)
	seedSession(t, dir, "old", "R")

	out, err := execute(t, "call", "get", "/patient/getHealthData?type=WEIGHT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"weightInKgs": 70`) || !strings.Contains(out, `"type": "WEIGHT"`) {
		t.Errorf("expected indented backend body, got:\n%s", out)
	}
	if calls != 2 || refreshes != 1 {
		t.Errorf("expected 2 calls and 1 refresh, got %d and %d", calls, refreshes)
	}
	if v, _ := stored(t, dir, auth.KeyAccessToken); v != "new" {
		t.Errorf("expected refreshed access token stored, got %q", v)
	}
	if v, _ := stored(t, dir, auth.KeyRefreshToken); v != "R2" {
		t.Errorf("expected rotated refresh token stored, got %q", v)
	}
}

func TestCall_SessionExpired(t *testing.T) {
	e := echo.New()
	e.GET("/patient/myReports", func(c echo.Context) error {
		return c.NoContent(http.StatusForbidden)
	})
	e.POST("/auth/refresh", func(c echo.Context) error {
		return c.NoContent(http.StatusUnauthorized)
	})
	dir := testEnv(t, newBackend(t, e).URL)
	seedSession(t, dir, "old", "R")

	_, err := execute(t, "call", "GET", "/patient/myReports")
	if err == nil || !strings.Contains(err.Error(), "Session expired") {
		t.Fatalf("expected session expired error, got %v", err)
	}
	if _, ok := stored(t, dir, auth.KeyRefreshToken); ok {
		t.Error("expected session cleared after failed refresh")
	}
}

func TestCall_PostData(t *testing.T) {
	var body map[string]any
	var contentType string
	e := echo.New()
	e.POST("/patient/getMedicationSchedule", func(c echo.Context) error {
		contentType = c.Request().Header.Get("Content-Type")
		json.NewDecoder(c.Request().Body).Decode(&body)
		return c.NoContent(http.StatusOK)
	})
	testEnv(t, newBackend(t, e).URL)

	file := filepath.Join(t.TempDir(), "req.json")
	os.WriteFile(file, []byte(`{"date":"2024-06-10"}`), 0o600)

	out, err := execute(t, "call", "POST", "/patient/getMedicationSchedule", "--data", "@"+file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("expected no output for an empty body, got %q", out)
	}
	if body["date"] != "2024-06-10" || contentType != "application/json" {
		t.Errorf("unexpected request %v %q", body, contentType)
	}
}

func TestCall_Validation(t *testing.T) {
	testEnv(t, "http://127.0.0.1:1")
	if _, err := execute(t, "call", "TRACE", "/x"); err == nil {
		t.Error("expected unsupported method error")
	}
	if _, err := execute(t, "call", "POST", "/x", "--data", "{nope"); err == nil {
		t.Error("expected invalid JSON error")
	}
}

func TestHealthAdd_OutOfRangeNeedsConfirm(t *testing.T) {
	var calls int32
	e := echo.New()
	e.POST("/patient/addHealthData", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		return c.String(http.StatusOK, `{"status":201}`)
	})
	testEnv(t, newBackend(t, e).URL)

	_, err := execute(t, "health", "add", "bp", "--systolic", "250", "--diastolic", "90", "--heart-rate", "80")
	if err == nil || !strings.Contains(err.Error(), "--confirm") {
		t.Fatalf("expected confirmation error, got %v", err)
	}
	if calls != 0 {
		t.Fatal("expected no backend call")
	}

	out, err := execute(t, "health", "add", "bp", "--systolic", "250", "--diastolic", "90", "--heart-rate", "80", "--confirm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || !strings.Contains(out, "Reading saved.") {
		t.Errorf("expected reading saved, got %d calls and %q", calls, out)
	}
}

func TestHealthSummary(t *testing.T) {
	e := echo.New()
	e.GET("/patient/getHealthData", func(c echo.Context) error {
		return c.String(http.StatusOK, `{"data":[
			{"id":1,"stampingTime":"2024-06-01T08:00:00Z","weightInKgs":71},
			{"id":2,"stampingTime":"2024-06-02T08:00:00Z","weightInKgs":70}]}`)
	})
	testEnv(t, newBackend(t, e).URL)

	out, err := execute(t, "-o", "json", "health", "summary", "weight")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []map[string]any
	json.Unmarshal([]byte(out), &got)
	if len(got) != 1 || got[0]["latest"] != float64(70) || got[0]["max"] != float64(71) {
		t.Errorf("unexpected summary %s", out)
	}
}

func TestCareOPD_PageHints(t *testing.T) {
	var query string
	e := echo.New()
	e.GET("/common/listOPDs", func(c echo.Context) error {
		query = c.QueryString()
		return c.String(http.StatusOK, `{"data":[
			{"doctor_name":"Grace Hopper","hospital_name":"City","opdVisit":{"chiefComplaint":"fever"}},
			{"doctor_name":"Alan Turing","hospital_name":"City","opdVisit":{}}]}`)
	})
	testEnv(t, newBackend(t, e).URL)

	out, err := execute(t, "care", "opd", "--date", "2024-06-10", "--page", "1", "--size", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(query, "page=1") || !strings.Contains(query, "size=2") {
		t.Errorf("unexpected backend query %q", query)
	}
	if !strings.Contains(out, "Grace Hopper") {
		t.Errorf("expected visit rows, got:\n%s", out)
	}
	if !strings.Contains(out, "Previous visits: --page 0") || !strings.Contains(out, "More visits: --page 2") {
		t.Errorf("expected page hints, got:\n%s", out)
	}

	out, err = execute(t, "care", "opd", "--date", "2024-06-10", "--size", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "Previous visits") || strings.Contains(out, "More visits") {
		t.Errorf("expected no hints on a short first page, got:\n%s", out)
	}
}

func TestAccountDelete_RequiresYes(t *testing.T) {
	testEnv(t, "http://127.0.0.1:1")
	_, err := execute(t, "account", "delete")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation error, got %v", err)
	}
}

func TestReportsShare_RequiresNumericID(t *testing.T) {
	testEnv(t, "http://127.0.0.1:1")
	if _, err := execute(t, "reports", "share", "abc", "--all"); err == nil {
		t.Fatal("expected numeric id error")
	}
}

// ---------------------------------------------------------------------------
// Helpers under test
// ---------------------------------------------------------------------------

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{Env: "production", LogLevel: "warn", LogFormat: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("k", "v").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info filtered at warn level")
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q", out)
	}
	if line["message"] != "shown" || line["k"] != "v" {
		t.Errorf("unexpected log line %v", line)
	}
}

func TestNewLogger_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{LogLevel: "loud"}, &buf)
	logger.Debug().Msg("debug")
	logger.Info().Msg("info")
	if strings.Contains(buf.String(), "debug") || !strings.Contains(buf.String(), "info") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, outputTable)
	p.print(nil, []string{"A"}, nil)
	if buf.String() != "No results.\n" {
		t.Errorf("unexpected empty table %q", buf.String())
	}

	buf.Reset()
	p.print(nil, []string{"ID", "NAME"}, [][]string{{"1", "Ada"}, {"22", "Grace"}})
	want := "ID  NAME\n1   Ada\n22  Grace\n"
	if buf.String() != want {
		t.Errorf("expected aligned table %q, got %q", want, buf.String())
	}

	buf.Reset()
	p = newPrinter(&buf, outputJSON)
	p.message("done")
	if strings.TrimSpace(buf.String()) != "{\n  \"status\": \"done\"\n}" {
		t.Errorf("unexpected json message %q", buf.String())
	}
}

func TestReadData(t *testing.T) {
	if b, err := readData(""); b != nil || err != nil {
		t.Errorf("expected nil body, got %q %v", b, err)
	}
	if b, _ := readData(`{"a":1}`); string(b) != `{"a":1}` {
		t.Errorf("unexpected inline body %q", b)
	}
	if _, err := readData("@/does/not/exist.json"); err == nil {
		t.Error("expected missing file error")
	}
}
