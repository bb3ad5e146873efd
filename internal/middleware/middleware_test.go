package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
)

const secret = "test-secret"

func whoami() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	h := Auth(secret)(whoami())

	token, err := IssueToken(secret, "student-42", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student-42", rec.Body.String())

	for name, header := range map[string]string{
		"missing":      "",
		"wrong scheme": "Basic abc",
		"garbage":      "Bearer not-a-token",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

func TestAuthRejectsExpiredAndForeignTokens(t *testing.T) {
	h := Auth(secret)(whoami())

	expired, err := IssueToken(secret, "student-42", -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("other-secret", "student-42", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, tok := range []string{expired, foreign, none} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestIssueTokenRequiresSecretAndSubject(t *testing.T) {
	_, err := IssueToken("", "a", time.Hour)
	assert.Error(t, err)
	_, err = IssueToken(secret, "", time.Hour)
	assert.Error(t, err)
}

func TestRequireScope(t *testing.T) {
	token, err := IssueToken(secret, "student-42", time.Hour)
	require.NoError(t, err)

	h := Auth(secret)(RequireScope(ScopeAssistant)(whoami()))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	denied := Auth(secret)(RequireScope("admin")(whoami()))
	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Logging(logger.NewNop()))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetCorrelationID(r.Context())))
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "corr-1", rec.Body.String())
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(whoami())
	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateQuestion("When is the library open?"))
	assert.Error(t, ValidateQuestion(""))
	assert.Error(t, ValidateQuestion("\xff"))

	assert.NoError(t, ValidateMessage(model.RoleAssistant, "ok"))
	assert.Error(t, ValidateMessage("system", "ok"))

	assert.NoError(t, ValidateSessionID("0190b5b4-0d2e-7c1a-9f5e-3d2a1b0c9e8f"))
	assert.Error(t, ValidateSessionID("abc123"))

	assert.NoError(t, ValidateCitation(model.Citation{Source: "Mail", Subject: "Lib Hours"}))
	assert.Error(t, ValidateCitation(model.Citation{Subject: "Lib Hours"}))
}
