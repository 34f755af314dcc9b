package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/envisionapp/envision-api/internal/middleware"
	"github.com/envisionapp/envision-api/internal/model"
	"github.com/envisionapp/envision-api/internal/repository"
	"github.com/envisionapp/envision-api/internal/utils"
)

// guestTTL is how long a guest identity keeps authenticating.  Guests
// exist so the app works before (or without) connecting a Canva
// account; the fixed window nudges long-term users toward a real
// connection without ever deleting their data.
const guestTTL = 10 * 24 * time.Hour

// AuthHandler serves guest session creation and the authenticated
// profile read.  OAuth-based authentication lives in OAuthHandler.
type AuthHandler struct {
	Users *repository.UserRepo
	Sync  *repository.SyncRepo
}

// NewAuthHandler constructs an AuthHandler.  Users must be non-nil;
// Sync may run in file-store mode where settings writes are skipped.
func NewAuthHandler(users *repository.UserRepo, sync *repository.SyncRepo) *AuthHandler {
	if users == nil {
		panic("nil user repository passed to NewAuthHandler")
	}
	return &AuthHandler{Users: users, Sync: sync}
}

// GuestLogin handles POST /v1/auth/guest.  It mints a fresh guest
// identity with a generated id and opaque session token, valid for a
// fixed ten-day window.  The optional home_timezone seeds the user's
// settings so the first bootstrap already returns something sensible.
func (h *AuthHandler) GuestLogin(c echo.Context) error {
	var body struct {
		HomeTimezone string `json:"home_timezone"`
	}
	// The body is optional; binding failures just mean no timezone.
	_ = c.Bind(&body)

	userToken, err := utils.NewUserToken()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate token"})
	}
	expires := time.Now().UTC().Add(guestTTL)
	u := &model.User{
		ID:             "guest_" + uuid.NewString(),
		UserToken:      userToken,
		IsGuest:        true,
		GuestExpiresAt: &expires,
	}
	ctx := c.Request().Context()
	if err := h.Users.Upsert(ctx, u); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	if body.HomeTimezone != "" && h.Sync != nil && h.Sync.DB() != nil {
		tx, err := h.Sync.DB().BeginTx(ctx, nil)
		if err == nil {
			s := &model.UserSettings{UserID: u.ID, HomeTimezone: body.HomeTimezone}
			if err := h.Sync.UpsertSettingsTx(ctx, tx, s); err != nil {
				_ = tx.Rollback()
				log.Warn().Err(err).Str("user_id", u.ID).Msg("guest settings seed failed")
			} else if err := tx.Commit(); err != nil {
				log.Warn().Err(err).Str("user_id", u.ID).Msg("guest settings commit failed")
			}
		}
	}

	log.Info().Str("user_id", u.ID).Msg("guest session created")
	return c.JSON(http.StatusCreated, echo.Map{
		"user_token":       u.UserToken,
		"user_id":          u.ID,
		"guest_expires_at": expires.Format(time.RFC3339),
	})
}

// Me handles GET /v1/me.  It returns the authenticated identity's
// profile: connection state, subscription fields and the stored habit
// and package documents.  Token material never leaves the server.
func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_auth"})
	}
	u, err := h.Users.GetByID(c.Request().Context(), userID)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_auth"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	resp := echo.Map{
		"user_id":     u.ID,
		"team_id":     u.TeamID,
		"is_guest":    u.IsGuest,
		"connected":   u.Token.Connected(),
		"plan_id":     u.PlanID,
		"plan_active": u.PlanActive,
		"habits":      u.Habits,
		"packages":    u.Packages,
	}
	if u.GuestExpiresAt != nil {
		resp["guest_expires_at"] = u.GuestExpiresAt.Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, resp)
}
