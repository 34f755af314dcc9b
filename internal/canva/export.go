package canva

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// StatusInProgress is the provider's non-terminal export-job status.
// Any other status ends the poll loop.
const StatusInProgress = "in_progress"

// ExportResult carries everything the poller observed about a job.  A
// timed-out poll is not an error: Status holds the last-seen value
// (normally "in_progress") and the caller decides whether to retry.
type ExportResult struct {
	JobID   string   `json:"job_id"`
	Status  string   `json:"status"`
	URLs    []string `json:"urls,omitempty"`
	Message string   `json:"message,omitempty"` // upstream-reported error, if any
}

// exportJob mirrors the provider's job payload.
type exportJob struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	URLs   []string `json:"urls"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExportDesign submits an export job and polls it until the status
// leaves in_progress or the wall-clock budget elapses, whichever comes
// first.  The loop sleeps the full poll interval between checks and so
// occupies its caller for up to the budget; export requests are rare and
// user-initiated, which is the only reason this is tolerable inline.
// The upstream job is not cancelled on timeout.
func (c *Client) ExportDesign(ctx context.Context, accessToken, designID, format string) (ExportResult, error) {
	job, err := c.createExport(ctx, accessToken, designID, format)
	if err != nil {
		return ExportResult{}, err
	}
	res := ExportResult{JobID: job.ID, Status: job.Status}

	deadline := time.Now().Add(c.pollBudget)
	for res.Status == StatusInProgress && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		job, err = c.getExport(ctx, accessToken, res.JobID)
		if err != nil {
			// Transient poll failures keep the last-seen status; the
			// job id is already known so the caller can poll again.
			log.Warn().Err(err).Str("job_id", res.JobID).Msg("export status poll failed")
			continue
		}
		res.Status = job.Status
		res.URLs = job.URLs
		if job.Error != nil {
			res.Message = job.Error.Message
		}
	}
	return res, nil
}

// createExport submits the job.  A rejected submission or a response
// without a job id is ErrExportSubmit.
func (c *Client) createExport(ctx context.Context, accessToken, designID, format string) (exportJob, error) {
	payload := map[string]any{
		"design_id": designID,
		"format":    map[string]string{"type": format},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return exportJob{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/rest/v1/exports", bytes.NewReader(body))
	if err != nil {
		return exportJob{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return exportJob{}, fmt.Errorf("%w: %v", ErrExportSubmit, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return exportJob{}, fmt.Errorf("%w: status %d: %s", ErrExportSubmit, resp.StatusCode, raw)
	}
	var out struct {
		Job exportJob `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return exportJob{}, fmt.Errorf("%w: %v", ErrExportSubmit, err)
	}
	if out.Job.ID == "" {
		return exportJob{}, fmt.Errorf("%w: no job id in response", ErrExportSubmit)
	}
	if out.Job.Status == "" {
		out.Job.Status = StatusInProgress
	}
	return out.Job, nil
}

// getExport reads the current job state.
func (c *Client) getExport(ctx context.Context, accessToken, jobID string) (exportJob, error) {
	var out struct {
		Job exportJob `json:"job"`
	}
	if err := c.getJSON(ctx, accessToken, "/rest/v1/exports/"+jobID, &out); err != nil {
		return exportJob{}, err
	}
	return out.Job, nil
}
