package middleware // reusable HTTP middleware for the Envision API

import (
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"

	"github.com/envisionapp/envision-api/internal/repository"
)

// authEntry is the cached result of one token lookup.  Only immutable
// identity facts are cached; mutable user state is always re-read by
// the handlers that need it.
type authEntry struct {
	UserID         string
	IsGuest        bool
	GuestExpiresAt *time.Time
}

// UserAuth returns a middleware that authenticates the opaque bearer
// user token against the users store and injects the resolved identity
// id into the context under "user_id".  Missing credentials fail with
// missing_auth, unresolvable or expired ones with invalid_auth, before
// any business logic runs.
//
// Lookups are cached for a short TTL: the token->identity mapping never
// changes once issued, so the cache only delays guest-expiry rejection
// by at most its TTL.
func UserAuth(users *repository.UserRepo) echo.MiddlewareFunc {
	cache := ttlcache.New[string, authEntry](
		ttlcache.WithTTL[string, authEntry](time.Minute),
		ttlcache.WithDisableTouchOnHit[string, authEntry](),
	)
	go cache.Start()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_auth"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_auth"})
			}

			var entry authEntry
			if item := cache.Get(raw); item != nil {
				entry = item.Value()
			} else {
				u, err := users.GetByToken(c.Request().Context(), raw)
				if err != nil {
					// Unknown tokens and store failures both resolve to
					// invalid_auth; an attacker learns nothing from the
					// difference and retries are safe either way.
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_auth"})
				}
				entry = authEntry{UserID: u.ID, IsGuest: u.IsGuest, GuestExpiresAt: u.GuestExpiresAt}
				cache.Set(raw, entry, ttlcache.DefaultTTL)
			}

			if entry.IsGuest && entry.GuestExpiresAt != nil && time.Now().UTC().After(*entry.GuestExpiresAt) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_auth"})
			}

			c.Set("user_id", entry.UserID)
			return next(c)
		}
	}
}

// UserID extracts the authenticated identity id set by UserAuth.  The
// boolean is false when the middleware did not run or rejected the
// request.
func UserID(c echo.Context) (string, bool) {
	v, ok := c.Get("user_id").(string)
	return v, ok && v != ""
}
