package canva

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient points a Client at the given server with fast polling so
// tests finish in milliseconds.
func testClient(ts *httptest.Server, budget time.Duration) *Client {
	c := New("cid", "secret", "http://localhost/cb", ts.URL)
	c.pollInterval = 5 * time.Millisecond
	c.pollBudget = budget
	return c
}

func writeJob(w http.ResponseWriter, job exportJob) {
	_ = json.NewEncoder(w).Encode(map[string]any{"job": job})
}

func TestExportDesign_SucceedsAfterPolling(t *testing.T) {
	var polls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/exports":
			assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "design-1", body["design_id"])
			writeJob(w, exportJob{ID: "job-1", Status: StatusInProgress})
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/exports/job-1":
			if polls.Add(1) < 3 {
				writeJob(w, exportJob{ID: "job-1", Status: StatusInProgress})
				return
			}
			writeJob(w, exportJob{ID: "job-1", Status: "success", URLs: []string{"https://cdn/a.png"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := testClient(ts, time.Second)
	res, err := c.ExportDesign(context.Background(), "at", "design-1", "png")
	require.NoError(t, err)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, []string{"https://cdn/a.png"}, res.URLs)
}

func TestExportDesign_TimeoutReturnsLastStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The job never finishes.
		writeJob(w, exportJob{ID: "job-1", Status: StatusInProgress})
	}))
	defer ts.Close()

	c := testClient(ts, 30*time.Millisecond)
	res, err := c.ExportDesign(context.Background(), "at", "design-1", "png")
	require.NoError(t, err) // a timed-out poll is not an error
	assert.Equal(t, StatusInProgress, res.Status)
	assert.Equal(t, "job-1", res.JobID)
	assert.Empty(t, res.URLs)
}

func TestExportDesign_CancelledMidPollReturnsContextError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The job never finishes; the caller gives up first.
		writeJob(w, exportJob{ID: "job-1", Status: StatusInProgress})
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := testClient(ts, time.Second)
	res, err := c.ExportDesign(ctx, "at", "design-1", "png")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrExportSubmit)
	// The job id survives so a later request can pick the job up.
	assert.Equal(t, "job-1", res.JobID)
}

func TestExportDesign_SubmitRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"forbidden"}`, http.StatusForbidden)
	}))
	defer ts.Close()

	c := testClient(ts, time.Second)
	_, err := c.ExportDesign(context.Background(), "at", "design-1", "png")
	assert.ErrorIs(t, err, ErrExportSubmit)
}

func TestExportDesign_MissingJobID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJob(w, exportJob{Status: StatusInProgress})
	}))
	defer ts.Close()

	c := testClient(ts, time.Second)
	_, err := c.ExportDesign(context.Background(), "at", "design-1", "png")
	assert.ErrorIs(t, err, ErrExportSubmit)
}

func TestExportDesign_UpstreamFailureSurfacesMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJob(w, exportJob{ID: "job-1", Status: StatusInProgress})
			return
		}
		writeJob(w, exportJob{ID: "job-1", Status: "failed", Error: &struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}{Code: "design_too_large", Message: "design exceeds export limits"}})
	}))
	defer ts.Close()

	c := testClient(ts, time.Second)
	res, err := c.ExportDesign(context.Background(), "at", "design-1", "png")
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, "design exceeds export limits", res.Message)
}

func TestExportDesign_TransientPollFailureContinues(t *testing.T) {
	var polls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJob(w, exportJob{ID: "job-1", Status: StatusInProgress})
			return
		}
		if polls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		writeJob(w, exportJob{ID: "job-1", Status: "success", URLs: []string{"https://cdn/a.png"}})
	}))
	defer ts.Close()

	c := testClient(ts, time.Second)
	res, err := c.ExportDesign(context.Background(), "at", "design-1", "png")
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
}
