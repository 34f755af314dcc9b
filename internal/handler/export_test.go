package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envisionapp/envision-api/internal/canva"
	"github.com/envisionapp/envision-api/internal/model"
	"github.com/envisionapp/envision-api/internal/repository"
	"github.com/envisionapp/envision-api/internal/token"
)

// exportFixture wires an ExportHandler against a fake Canva server that
// completes every export immediately.  The server re-signs asset URLs
// on each call (exports), the way the real provider does.
func exportFixture(t *testing.T) (*ExportHandler, *repository.UserRepo) {
	t.Helper()
	var exports atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/exports" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n := exports.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"job": map[string]any{
			"id":     "job-1",
			"status": "success",
			"urls": []string{
				fmt.Sprintf("https://cdn/a.png?sig=%d", n),
				fmt.Sprintf("https://cdn/b.png?sig=%d", n),
			},
		}})
	}))
	t.Cleanup(ts.Close)

	users := fileUsers(t)
	require.NoError(t, users.Upsert(context.Background(), &model.User{
		ID:        "user-1",
		UserToken: "tok-1",
		Token: model.TokenBundle{
			AccessToken:  "at",
			RefreshToken: "rt",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			ObtainedAt:   time.Now().UTC(),
		},
	}))

	client := canva.New("cid", "secret", "http://localhost/cb", ts.URL)
	return NewExportHandler(users, client, token.NewManager(client)), users
}

func doExport(t *testing.T, h *ExportHandler, designID string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/designs/"+designID+"/export",
		strings.NewReader(`{"format":"png","import":true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(designID)
	c.Set("user_id", "user-1")
	require.NoError(t, h.Export(c))
	return rec
}

func TestExport_RetriedImportOverwritesArtifacts(t *testing.T) {
	h, users := exportFixture(t)

	rec := doExport(t, h, "design-1")
	require.Equal(t, http.StatusOK, rec.Code)

	u, err := users.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, u.Packages, 2)
	firstIDs := []string{u.Packages[0].ID, u.Packages[1].ID}

	// A retried import gets freshly signed URLs from the provider but
	// must land on the same artifact ids, replacing rather than
	// appending.
	rec = doExport(t, h, "design-1")
	require.Equal(t, http.StatusOK, rec.Code)

	u, err = users.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, u.Packages, 2)
	assert.Equal(t, firstIDs, []string{u.Packages[0].ID, u.Packages[1].ID})
	assert.Equal(t, "https://cdn/a.png?sig=2", u.Packages[0].AssetURL)
	assert.Equal(t, "https://cdn/b.png?sig=2", u.Packages[1].AssetURL)

	// A different design produces its own artifacts.
	rec = doExport(t, h, "design-2")
	require.Equal(t, http.StatusOK, rec.Code)
	u, err = users.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, u.Packages, 4)
}

func TestArtifactID_Deterministic(t *testing.T) {
	a := artifactID("user-1", "design-1", "png", 0)
	assert.Equal(t, a, artifactID("user-1", "design-1", "png", 0))
	assert.NotEqual(t, a, artifactID("user-1", "design-1", "png", 1))
	assert.NotEqual(t, a, artifactID("user-1", "design-1", "pdf", 0))
	assert.NotEqual(t, a, artifactID("user-2", "design-1", "png", 0))
}

func TestExportFailureMapping(t *testing.T) {
	status, reason := exportFailure(context.Canceled)
	assert.Equal(t, http.StatusRequestTimeout, status)
	assert.Equal(t, "request_cancelled", reason)

	status, reason = exportFailure(fmt.Errorf("poll: %w", context.DeadlineExceeded))
	assert.Equal(t, http.StatusRequestTimeout, status)
	assert.Equal(t, "request_cancelled", reason)

	status, reason = exportFailure(canva.ErrExportSubmit)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "export_submit_failed", reason)
}
