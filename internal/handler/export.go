package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/envisionapp/envision-api/internal/canva"
	"github.com/envisionapp/envision-api/internal/middleware"
	"github.com/envisionapp/envision-api/internal/model"
	"github.com/envisionapp/envision-api/internal/repository"
	"github.com/envisionapp/envision-api/internal/token"
)

// ExportHandler drives design exports against the Canva API and the
// optional import of the produced assets into the user's packages.
type ExportHandler struct {
	Users  *repository.UserRepo
	Canva  *canva.Client
	Tokens *token.Manager
}

// NewExportHandler constructs an ExportHandler.  All dependencies must
// be non-nil.
func NewExportHandler(users *repository.UserRepo, client *canva.Client, tokens *token.Manager) *ExportHandler {
	if users == nil || client == nil || tokens == nil {
		panic("nil dependency passed to NewExportHandler")
	}
	return &ExportHandler{Users: users, Canva: client, Tokens: tokens}
}

// Export handles POST /v1/designs/:id/export.  It obtains a valid
// access token (refreshing and persisting if needed), submits the
// export job and waits for it inline up to the poll budget.  A job
// still running at the budget returns 202 with the last-seen status so
// the client can retry; a finished job returns 200.  With import=true
// every produced asset URL is appended to the user's packages list one
// at a time.  Artifact ids derive from (user, design, format, index),
// not from the asset URL, because the provider signs fresh URLs on
// every export; stable ids are what let a retried import overwrite
// instead of duplicating, and a mid-list failure keeps the artifacts
// already written.
func (h *ExportHandler) Export(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_auth"})
	}
	designID := c.Param("id")
	if designID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid design id"})
	}
	var body struct {
		Format string `json:"format"`
		Import bool   `json:"import"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Format == "" {
		body.Format = "png"
	}

	ctx := c.Request().Context()
	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	bundle, refreshed, err := h.Tokens.ValidAccessToken(ctx, u.Token)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrNotConnected):
			return c.JSON(http.StatusConflict, echo.Map{"error": "not_connected"})
		case errors.Is(err, token.ErrRefreshTokenMissing), errors.Is(err, token.ErrRefreshFailed):
			log.Warn().Err(err).Str("user_id", userID).Msg("token refresh failed, reconnect required")
			return c.JSON(http.StatusConflict, echo.Map{"error": "not_connected"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}
	if refreshed {
		if err := h.Users.UpdateTokenBundle(ctx, userID, bundle); err != nil {
			// The refreshed token still works for this request; only
			// the next request pays for the failed persist.
			log.Warn().Err(err).Str("user_id", userID).Msg("refreshed token persist failed")
		}
	}

	res, err := h.Canva.ExportDesign(ctx, bundle.AccessToken, designID, body.Format)
	if err != nil {
		status, reason := exportFailure(err)
		if reason == "export_submit_failed" {
			log.Warn().Err(err).Str("design_id", designID).Msg("export submit failed")
		}
		return c.JSON(status, echo.Map{"error": reason})
	}

	resp := echo.Map{
		"job_id": res.JobID,
		"status": res.Status,
		"urls":   res.URLs,
	}
	if res.Message != "" {
		resp["message"] = res.Message
	}
	if res.Status == canva.StatusInProgress {
		return c.JSON(http.StatusAccepted, resp)
	}

	if body.Import && res.Status == "success" {
		if len(res.URLs) == 0 {
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "export_missing_urls"})
		}
		imported := make([]model.PackageItem, 0, len(res.URLs))
		for i, assetURL := range res.URLs {
			item := model.PackageItem{
				ID:        artifactID(userID, designID, body.Format, i),
				DesignID:  designID,
				AssetURL:  assetURL,
				CreatedAt: time.Now().UTC(),
			}
			if err := h.Users.AppendPackage(ctx, userID, item); err != nil {
				log.Error().Err(err).Str("user_id", userID).Int("imported", len(imported)).
					Msg("package import stopped mid-list")
				resp["packages"] = imported
				resp["import_error"] = "database error"
				return c.JSON(http.StatusInternalServerError, resp)
			}
			imported = append(imported, item)
		}
		resp["packages"] = imported
	}
	return c.JSON(http.StatusOK, resp)
}

// artifactID derives a stable package-item id from the identity, the
// design, the format and the asset's position in the export output.
// The provider signs fresh asset URLs on every export, so the URL
// cannot participate in the id; position is what keeps a retried
// import overwriting the same rows.
func artifactID(userID, designID, format string, index int) string {
	seed := fmt.Sprintf("%s/%s/%s/%d", userID, designID, format, index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

// exportFailure maps an export error onto a transport status and a
// reason code.  A caller that disconnected mid-poll surfaces as a
// context error and is not an upstream rejection.
func exportFailure(err error) (int, string) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "request_cancelled"
	}
	return http.StatusBadGateway, "export_submit_failed"
}
