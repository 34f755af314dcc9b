package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/envisionapp/envision-api/internal/canva"
	"github.com/envisionapp/envision-api/internal/model"
	"github.com/envisionapp/envision-api/internal/repository"
	"github.com/envisionapp/envision-api/internal/utils"
)

// StateTTL bounds how long an in-flight authorization attempt stays
// redeemable.  The sweep goroutine deletes older rows.
const StateTTL = 15 * time.Minute

// OAuthHandler runs the authorization-code + PKCE flow against the
// Canva platform.  It supports three completion modes chosen at flow
// start: a deep-link redirect back into the mobile app, a postMessage
// page for popup-based web flows, and a pollable variant for clients
// that can do neither.
type OAuthHandler struct {
	Users  *repository.UserRepo
	States *repository.OAuthStateRepo
	Canva  *canva.Client
}

// NewOAuthHandler constructs an OAuthHandler.  All dependencies must be
// non-nil.
func NewOAuthHandler(users *repository.UserRepo, states *repository.OAuthStateRepo, client *canva.Client) *OAuthHandler {
	if users == nil || states == nil || client == nil {
		panic("nil dependency passed to NewOAuthHandler")
	}
	return &OAuthHandler{Users: users, States: states, Canva: client}
}

// Begin handles GET /v1/auth/canva.  It mints the state nonce and PKCE
// pair, persists the pending attempt and sends the caller to the
// provider's authorization page.  With poll=1 it instead returns the
// authorization URL plus a poll token as JSON, for clients that open
// the browser themselves and cannot receive the callback result.
//
// Optional query parameters:
//
//	return_to – deep link to redirect to after the callback
//	origin    – opener origin for the postMessage completion page
//	poll      – "1" selects the pollable variant
func (h *OAuthHandler) Begin(c echo.Context) error {
	returnTo := c.QueryParam("return_to")
	origin := c.QueryParam("origin")
	if origin != "" && !validOrigin(origin) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid origin"})
	}

	state, err := utils.NewStateNonce()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate state"})
	}
	verifier, _, err := utils.NewPKCEPair()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate verifier"})
	}

	ctx := c.Request().Context()
	pollToken := ""
	if c.QueryParam("poll") == "1" {
		if pollToken, err = utils.NewPollToken(); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate poll token"})
		}
		if err := h.States.CreatePoll(ctx, pollToken); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
	}

	s := &model.PkceState{
		State:        state,
		CodeVerifier: verifier,
		PollToken:    pollToken,
		ReturnTo:     returnTo,
		Origin:       origin,
	}
	if err := h.States.CreateState(ctx, s); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	authURL := h.Canva.AuthCodeURL(state, verifier)
	if pollToken != "" {
		return c.JSON(http.StatusOK, echo.Map{
			"auth_url":   authURL,
			"poll_token": pollToken,
		})
	}
	return c.Redirect(http.StatusFound, authURL)
}

// Callback handles GET /v1/auth/canva/callback.  The state nonce is
// single use: the pending row is consumed atomically before any
// upstream call, so a replayed or concurrently duplicated callback URL
// always fails with invalid_state.  On success
// the external identity is created or updated (an existing identity
// keeps its session token so other devices stay logged in), the poll
// record is satisfied when one exists, and the response completes the
// flow in whichever mode was requested at Begin.
func (h *OAuthHandler) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_state"})
	}

	s, err := h.States.ConsumeState(ctx, state)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_state"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	if code == "" {
		// The provider reports denial via error= without a code.
		return h.completeFailure(c, s, "token_exchange_failed")
	}

	bundle, err := h.Canva.Exchange(ctx, code, s.CodeVerifier)
	if err != nil {
		log.Warn().Err(err).Msg("oauth code exchange failed")
		return h.completeFailure(c, s, "token_exchange_failed")
	}
	ident, err := h.Canva.Me(ctx, bundle.AccessToken)
	if err != nil {
		log.Warn().Err(err).Msg("oauth identity resolution failed")
		return h.completeFailure(c, s, "identity_resolution_failed")
	}

	u, err := h.Users.GetByID(ctx, ident.UserID)
	switch {
	case err == nil:
		// Reconnect: keep the existing session token valid.
		u.Token = bundle
		u.TeamID = ident.TeamID
		u.IsGuest = false
		u.GuestExpiresAt = nil
	case errors.Is(err, repository.ErrUserNotFound):
		userToken, terr := utils.NewUserToken()
		if terr != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate token"})
		}
		u = &model.User{
			ID:        ident.UserID,
			TeamID:    ident.TeamID,
			UserToken: userToken,
			Token:     bundle,
		}
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := h.Users.Upsert(ctx, u); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	if s.PollToken != "" {
		if err := h.States.SetPollResult(ctx, s.PollToken, u.UserToken, u.ID); err != nil {
			log.Warn().Err(err).Msg("poll result write failed")
		}
	}
	log.Info().Str("user_id", u.ID).Msg("canva account connected")
	return h.completeSuccess(c, s, u.UserToken, u.ID)
}

// Poll handles GET /v1/auth/canva/poll.  Reading a poll record is
// idempotent; the client repeats the call until status flips to
// complete.
func (h *OAuthHandler) Poll(c echo.Context) error {
	tok := c.QueryParam("token")
	if tok == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	rec, err := h.States.GetPoll(c.Request().Context(), tok)
	if err != nil {
		if errors.Is(err, repository.ErrPollNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown poll token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if rec.UserToken == "" {
		return c.JSON(http.StatusOK, echo.Map{"status": "pending"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":     "complete",
		"user_token": rec.UserToken,
		"user_id":    rec.UserID,
	})
}

// completeSuccess finishes the flow in the mode the client asked for at
// Begin: deep-link redirect when return_to was given, otherwise a small
// HTML page that posts the result to the opener window.  A pollable
// flow already has its result stored, so the page doubles as a plain
// "you can close this" confirmation.
func (h *OAuthHandler) completeSuccess(c echo.Context, s *model.PkceState, userToken, userID string) error {
	if s.ReturnTo != "" {
		u, err := url.Parse(s.ReturnTo)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid return_to"})
		}
		q := u.Query()
		q.Set("user_token", userToken)
		q.Set("user_id", userID)
		u.RawQuery = q.Encode()
		return c.Redirect(http.StatusFound, u.String())
	}
	return c.HTML(http.StatusOK, postMessagePage(s.Origin, echo.Map{
		"type":      "oauth_success",
		"userToken": userToken,
		"userId":    userID,
	}))
}

// completeFailure mirrors completeSuccess for error outcomes so popup
// and deep-link clients both learn the stable reason code.
func (h *OAuthHandler) completeFailure(c echo.Context, s *model.PkceState, reason string) error {
	if s.ReturnTo != "" {
		u, err := url.Parse(s.ReturnTo)
		if err != nil {
			return c.JSON(http.StatusBadGateway, echo.Map{"error": reason})
		}
		q := u.Query()
		q.Set("error", reason)
		u.RawQuery = q.Encode()
		return c.Redirect(http.StatusFound, u.String())
	}
	return c.HTML(http.StatusBadGateway, postMessagePage(s.Origin, echo.Map{
		"type":  "oauth_error",
		"error": reason,
	}))
}

// postMessagePage renders the popup completion page.  The payload and
// target origin are embedded as JSON literals, which keeps arbitrary
// query input out of script context.  An empty origin falls back to the
// wildcard: the payload only contains a token the opener asked for.
func postMessagePage(origin string, payload echo.Map) string {
	target := "*"
	if origin != "" {
		target = origin
	}
	data, _ := json.Marshal(payload)
	tgt, _ := json.Marshal(target)
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Envision</title></head>
<body>
<p>You can close this window.</p>
<script>
if (window.opener) {
	window.opener.postMessage(%s, %s);
	window.close();
}
</script>
</body></html>`, data, tgt)
}

// validOrigin accepts only http(s) origins so the stored value is safe
// to hand to postMessage as a target.
func validOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != "" && u.Path == ""
}

// SweepStatesLoop deletes abandoned authorization attempts on an
// interval.  Run it in its own goroutine; it returns when ctx ends.
func (h *OAuthHandler) SweepStatesLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := h.States.SweepStates(ctx, time.Now().UTC().Add(-StateTTL))
			if err != nil {
				log.Warn().Err(err).Msg("pkce state sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("removed", n).Msg("swept stale pkce states")
			}
		}
	}
}
