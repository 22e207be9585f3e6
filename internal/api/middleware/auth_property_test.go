package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/build-feed/internal/auth"
)

func newAuthService(expiry time.Duration) *auth.Service {
	return auth.NewService(&auth.Config{
		JWTSecret:   []byte("middleware-test-secret-0123456789abcdef"),
		TokenExpiry: expiry,
	}, nil, nil)
}

func whoami(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetUserID(r.Context()) + "|" + GetUserEmail(r.Context())))
}

// **Feature: build-feed, Property 17: Only valid tokens reach protected routes**
// *For any* user, a token issued for that user SHALL authenticate through the
// header or the token query parameter and expose the user's id; the same token
// with extra signature bytes SHALL be rejected with 401.
func TestPropertyAuthenticate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	svc := newAuthService(time.Hour)
	handler := NewAuthMiddleware(svc, nil).Authenticate(http.HandlerFunc(whoami))

	properties.Property("valid tokens pass, tampered tokens fail", prop.ForAll(
		func(userID string, viaQuery bool) bool {
			email := userID + "@example.com"
			token, err := svc.GenerateToken(userID, email, "")
			if err != nil {
				return false
			}

			call := func(tok string) *httptest.ResponseRecorder {
				req := httptest.NewRequest(http.MethodGet, "/v1/builds", nil)
				if viaQuery {
					req.URL.RawQuery = "token=" + tok
				} else {
					req.Header.Set("Authorization", "Bearer "+tok)
				}
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
				return rr
			}

			ok := call(token)
			if ok.Code != http.StatusOK || ok.Body.String() != userID+"|"+email {
				return false
			}

			return call(token+"A").Code == http.StatusUnauthorized
		},
		gen.RegexMatch("[a-z][a-z0-9]{5,15}"),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestAuthenticateMissingToken(t *testing.T) {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(NewAuthMiddleware(newAuthService(time.Hour), nil).Authenticate)
	r.Get("/v1/builds", whoami)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/builds", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "UNAUTHORIZED", body["code"])
	assert.NotEmpty(t, body["request_id"])
}

func TestAuthenticateExpiredToken(t *testing.T) {
	svc := newAuthService(-time.Minute)
	token, err := svc.GenerateToken("u1", "u1@example.com", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	NewAuthMiddleware(svc, nil).Authenticate(http.HandlerFunc(whoami)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "expired")
}

func TestRecoveryWritesInternalError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/builds", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, logs.String(), "panic recovered")
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/builds", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["msg"])
	assert.Equal(t, float64(http.StatusCreated), entry["status"])
}
