package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envisionapp/envision-api/internal/filestore"
	"github.com/envisionapp/envision-api/internal/middleware"
	"github.com/envisionapp/envision-api/internal/repository"
)

// fileUsers returns a file-backed user repository rooted in a temp dir.
func fileUsers(t *testing.T) *repository.UserRepo {
	t.Helper()
	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	return repository.NewUserRepo(nil, files)
}

func TestGuestLogin_EndToEnd(t *testing.T) {
	users := fileUsers(t)
	h := NewAuthHandler(users, repository.NewSyncRepo(nil))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/guest",
		strings.NewReader(`{"home_timezone":"Europe/Berlin"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.GuestLogin(e.NewContext(req, rec)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var out struct {
		UserToken      string `json:"user_token"`
		UserID         string `json:"user_id"`
		GuestExpiresAt string `json:"guest_expires_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.UserToken)
	assert.True(t, strings.HasPrefix(out.UserID, "guest_"))

	exp, err := time.Parse(time.RFC3339, out.GuestExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(guestTTL), exp, time.Minute)

	// The minted token authenticates through the user-auth middleware.
	protected := middleware.UserAuth(users)(func(c echo.Context) error {
		id, ok := middleware.UserID(c)
		require.True(t, ok)
		return c.String(http.StatusOK, id)
	})
	req = httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+out.UserToken)
	rec = httptest.NewRecorder()
	require.NoError(t, protected(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, out.UserID, rec.Body.String())

	// Me on the stored identity reports guest state.
	req = httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", out.UserID)
	require.NoError(t, h.Me(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, true, me["is_guest"])
	assert.Equal(t, false, me["connected"])
}

func TestUserAuth_RejectsBadCredentials(t *testing.T) {
	users := fileUsers(t)
	e := echo.New()
	protected := middleware.UserAuth(users)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	// No Authorization header.
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, protected(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_auth")

	// Unknown token.
	req = httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	require.NoError(t, protected(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_auth")
}
