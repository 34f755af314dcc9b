// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/envisionapp/envision-api/internal/config"
	"github.com/envisionapp/envision-api/internal/handler"
	"github.com/envisionapp/envision-api/internal/middleware"
	"github.com/envisionapp/envision-api/internal/repository"
)

// Handlers bundles every handler the router wires up.  All fields must
// be non-nil.
type Handlers struct {
	Auth   *handler.AuthHandler
	OAuth  *handler.OAuthHandler
	Sync   *handler.SyncHandler
	Gift   *handler.GiftHandler
	Export *handler.ExportHandler
	Admin  *handler.AdminHandler
}

// RegisterRoutes registers the full route table.
//
// Three tiers of access control apply:
//
//	public     – health, OAuth flow endpoints and guest login
//	user       – everything under /v1 guarded by the opaque user token
//	admin      – the gift-code provisioning surface, HS256 JWT guarded
//
// The Redis token bucket throttles the unauthenticated auth endpoints
// and gift redemption; it degrades to a pass-through when Redis is
// absent.
func RegisterRoutes(e *echo.Echo, h Handlers, users *repository.UserRepo,
	rlCfg config.RateLimitConfig, rdb *redis.Client, jwtSecret string) {

	e.GET("/healthz", handler.Health(users.DB()))

	limited := middleware.NewTokenBucket(rlCfg, rdb)

	auth := e.Group("/v1/auth", limited)
	auth.GET("/canva", h.OAuth.Begin)
	auth.GET("/canva/callback", h.OAuth.Callback)
	auth.GET("/canva/poll", h.OAuth.Poll)
	auth.POST("/guest", h.Auth.GuestLogin)

	user := e.Group("/v1", middleware.UserAuth(users))
	user.GET("/me", h.Auth.Me)
	user.GET("/sync/bootstrap", h.Sync.Bootstrap)
	user.POST("/sync/push", h.Sync.Push)
	user.POST("/gift/redeem", h.Gift.Redeem, limited)
	user.POST("/designs/:id/export", h.Export.Export)

	admin := e.Group("/v1/admin")
	admin.POST("/login", h.Admin.Login, limited)
	guarded := admin.Group("", middleware.AdminJWT(jwtSecret))
	guarded.POST("/gift-codes", h.Admin.CreateCode)
	guarded.GET("/gift-codes/:code", h.Admin.GetCode)
	guarded.POST("/gift-codes/:code/deactivate", h.Admin.DeactivateCode)
}
