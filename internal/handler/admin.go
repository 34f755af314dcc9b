package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/envisionapp/envision-api/internal/model"
	"github.com/envisionapp/envision-api/internal/repository"
	"github.com/envisionapp/envision-api/internal/utils"
)

// AdminHandler serves the gift-code provisioning surface.  A single
// operator account is configured through the environment; everything
// past login is guarded by the AdminJWT middleware.
type AdminHandler struct {
	Codes        *repository.GiftCodeRepo
	JWTSecret    string
	Email        string
	PasswordHash string
	TokenTTLMin  int
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(codes *repository.GiftCodeRepo, jwtSecret, email, passwordHash string, ttlMin int) *AdminHandler {
	if codes == nil {
		panic("nil gift-code repository passed to NewAdminHandler")
	}
	return &AdminHandler{
		Codes:        codes,
		JWTSecret:    jwtSecret,
		Email:        email,
		PasswordHash: passwordHash,
		TokenTTLMin:  ttlMin,
	}
}

// Login handles POST /v1/admin/login.  It checks the configured
// operator credentials and issues a short-lived HS256 token.  When no
// operator account is configured the endpoint reports itself disabled
// instead of rejecting every attempt as a bad password.
func (h *AdminHandler) Login(c echo.Context) error {
	if h.Email == "" || h.PasswordHash == "" {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "admin login is not configured"})
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if !strings.EqualFold(body.Email, h.Email) || !utils.VerifyPassword(h.PasswordHash, body.Password) {
		log.Warn().Str("email", body.Email).Msg("admin login rejected")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	tok, err := utils.NewAdminToken(h.JWTSecret, h.Email, h.TokenTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to sign token"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"token":      tok.Token,
		"expires_at": tok.Exp.Format(time.RFC3339),
	})
}

// CreateCode handles POST /v1/admin/gift-codes.  Codes are created
// active by default; active=false provisions a code ahead of a launch
// without making it redeemable yet.
func (h *AdminHandler) CreateCode(c echo.Context) error {
	var body struct {
		Code      string `json:"code"`
		PlanID    string `json:"plan_id"`
		GrantDays int    `json:"grant_days"`
		MaxUses   int    `json:"max_uses"`
		Active    *bool  `json:"active"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.Code = strings.TrimSpace(body.Code)
	if body.Code == "" || body.PlanID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code and plan_id are required"})
	}
	if body.GrantDays <= 0 || body.MaxUses <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "grant_days and max_uses must be positive"})
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	gc := &model.GiftCode{
		Code:      body.Code,
		PlanID:    body.PlanID,
		GrantDays: body.GrantDays,
		MaxUses:   body.MaxUses,
		Active:    active,
	}
	err := h.Codes.Create(c.Request().Context(), gc)
	if err != nil {
		if errors.Is(err, repository.ErrCodeExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "code already exists"})
		}
		if errors.Is(err, repository.ErrNoDatabase) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "gift codes require database storage"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	log.Info().Str("code", gc.Code).Str("plan_id", gc.PlanID).Int("max_uses", gc.MaxUses).
		Msg("gift code provisioned")
	return c.JSON(http.StatusCreated, giftCodeResponse(gc))
}

// GetCode handles GET /v1/admin/gift-codes/:code.
func (h *AdminHandler) GetCode(c echo.Context) error {
	code := c.Param("code")
	gc, err := h.Codes.GetByCode(c.Request().Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCode) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "code not found"})
		}
		if errors.Is(err, repository.ErrNoDatabase) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "gift codes require database storage"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, giftCodeResponse(gc))
}

// DeactivateCode handles POST /v1/admin/gift-codes/:code/deactivate.
// Deactivation is permanent from this surface; redemptions already
// granted stay granted.
func (h *AdminHandler) DeactivateCode(c echo.Context) error {
	code := c.Param("code")
	err := h.Codes.Deactivate(c.Request().Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCode) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "code not found"})
		}
		if errors.Is(err, repository.ErrNoDatabase) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "gift codes require database storage"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	log.Info().Str("code", code).Msg("gift code deactivated")
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// giftCodeResponse is the admin-facing wire shape of one code.
func giftCodeResponse(gc *model.GiftCode) echo.Map {
	return echo.Map{
		"code":       gc.Code,
		"plan_id":    gc.PlanID,
		"grant_days": gc.GrantDays,
		"max_uses":   gc.MaxUses,
		"used_count": gc.UsedCount,
		"active":     gc.Active,
		"created_at": gc.CreatedAt.Format(time.RFC3339),
	}
}
