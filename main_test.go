package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/MasterBuilder91/misyar-connect/config"
	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

const testJWTSecret = "test-secret-key-for-testing"

// testEnv is a full server over in-memory stores.
type testEnv struct {
	app     *app
	handler http.Handler
	stores  *store.Stores
	spans   *tracetest.SpanRecorder
	clock   *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testUser struct {
	ID    string
	Email string
	Token string
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:        8080,
		Env:         "test",
		JWTSecret:   testJWTSecret,
		TokenTTL:    time.Hour,
		CORSOrigins: []string{"http://localhost:5173"},
		Store:       config.Store{Driver: config.DriverMemory},
		Matching:    config.Matching{MinScore: 0, Limit: 50},
		RateLimit:   config.RateLimit{PerMinute: 6000, Burst: 1000},
		Uploads:     config.Uploads{Dir: t.TempDir(), MaxBytes: 1 << 20},
		Log:         config.Log{Level: "debug", Format: "console"},
		Telemetry:   config.Telemetry{ServiceName: "misyar-connect-test"},
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	stores := store.NewMemory()
	a, err := newApp(cfg, zaptest.NewLogger(t), stores, withTracerProvider(tp), withClock(clock.Now))
	require.NoError(t, err)

	return &testEnv{app: a, handler: a.routes(), stores: stores, spans: spans, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, w)["error"]
}

func (e *testEnv) register(t *testing.T, email string) testUser {
	t.Helper()
	w := e.do(t, http.MethodPost, "/register", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeBody[map[string]string](t, w)
	return testUser{ID: resp["id"], Email: email, Token: resp["token"]}
}

// memberSpec describes a user with a complete profile.
type memberSpec struct {
	Gender   matching.Gender
	Age      int
	Location string
	Practice matching.ReligiousPractice
	Rights   map[string]bool
}

// member registers a user and saves a profile and rights through the API.
func (e *testEnv) member(t *testing.T, email string, spec memberSpec) testUser {
	t.Helper()
	u := e.register(t, email)
	if spec.Location == "" {
		spec.Location = "UAE"
	}
	if spec.Practice == "" {
		spec.Practice = matching.VeryPracticing
	}
	if spec.Age == 0 {
		spec.Age = 30
	}

	w := e.do(t, http.MethodPut, "/me/profile", u.Token, map[string]any{
		"display_name":       email,
		"gender":             spec.Gender,
		"age":                spec.Age,
		"location":           spec.Location,
		"occupation":         "Engineer",
		"religious_practice": spec.Practice,
		"bio":                "hello",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	if spec.Rights != nil {
		w = e.do(t, http.MethodPut, "/me/rights", u.Token, map[string]any{"rights": spec.Rights})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return u
}

// mutualMatch makes a and b interested in each other.
func (e *testEnv) mutualMatch(t *testing.T, a, b testUser) {
	t.Helper()
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/interests/"+b.ID, a.Token, nil).Code)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/interests/"+a.ID, b.Token, nil).Code)
}
