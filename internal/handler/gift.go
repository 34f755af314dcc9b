package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/envisionapp/envision-api/internal/middleware"
	"github.com/envisionapp/envision-api/internal/queue"
	"github.com/envisionapp/envision-api/internal/repository"
	queue_publisher "github.com/envisionapp/envision-api/internal/service"
)

// GiftHandler redeems gift codes against the authenticated identity.
type GiftHandler struct {
	Codes *repository.GiftCodeRepo
	Users *repository.UserRepo
}

// NewGiftHandler constructs a GiftHandler.  Both repositories must be
// non-nil and share one database.
func NewGiftHandler(codes *repository.GiftCodeRepo, users *repository.UserRepo) *GiftHandler {
	if codes == nil || users == nil {
		panic("nil repository passed to NewGiftHandler")
	}
	return &GiftHandler{Codes: codes, Users: users}
}

// Redeem handles POST /v1/gift/redeem.  The whole redemption runs in
// one transaction: the code row is locked FOR UPDATE, validated in a
// fixed order (unknown, inactive, exhausted, already redeemed), then
// the counter, the ledger row and the user's subscription fields all
// commit together.  Two concurrent attempts on the last use serialize
// on the row lock and exactly one succeeds.  Business rejections are
// 200 responses with ok=false and a stable reason code; only
// infrastructure failures surface as 5xx.
func (h *GiftHandler) Redeem(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_auth"})
	}
	if h.Codes.DB() == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "redemption requires database storage"})
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		return rejectRedemption(c, repository.ErrInvalidCode)
	}

	ctx := c.Request().Context()
	tx, err := h.Codes.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	gc, err := h.Codes.GetForUpdateTx(ctx, tx, code)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCode) {
			return rejectRedemption(c, err)
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	already, err := h.Codes.HasRedemptionTx(ctx, tx, code, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := repository.Evaluate(gc, already); err != nil {
		return rejectRedemption(c, err)
	}

	now := time.Now().UTC()
	if err := h.Codes.ConsumeTx(ctx, tx, code, userID, now); err != nil {
		if errors.Is(err, repository.ErrAlreadyRedeemed) {
			return rejectRedemption(c, err)
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := h.Users.SetSubscriptionTx(ctx, tx, userID, gc.PlanID, "gift_code", now); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	log.Info().Str("user_id", userID).Str("plan_id", gc.PlanID).Msg("gift code redeemed")
	ev := queue.GiftRedeemedEvent{
		Code:       gc.Code,
		UserID:     userID,
		PlanID:     gc.PlanID,
		GrantDays:  gc.GrantDays,
		RedeemedAt: now.Format(time.RFC3339),
	}
	go func() {
		if err := queue_publisher.PublishGiftRedeemed(context.Background(), ev); err != nil {
			log.Warn().Err(err).Str("user_id", ev.UserID).Msg("gift.redeemed publish failed")
		}
	}()

	return c.JSON(http.StatusOK, echo.Map{
		"ok":         true,
		"plan_id":    gc.PlanID,
		"grant_days": gc.GrantDays,
	})
}

// rejectRedemption translates a redemption sentinel into the wire
// response.  Unknown sentinels fall through as invalid_code rather
// than leaking an internal message.
func rejectRedemption(c echo.Context, err error) error {
	reason := "invalid_code"
	switch {
	case errors.Is(err, repository.ErrCodeInactive):
		reason = "code_inactive"
	case errors.Is(err, repository.ErrCodeExhausted):
		reason = "code_exhausted"
	case errors.Is(err, repository.ErrAlreadyRedeemed):
		reason = "already_redeemed"
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": false, "error": reason})
}
