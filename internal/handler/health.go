package handler

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health reports liveness plus which storage mode the process runs in.
// A nil db means the file-store fallback is active and the sync and
// gift-code surfaces are disabled.
func Health(db *sql.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		store := "mysql"
		if db == nil {
			store = "file"
		}
		return c.JSON(http.StatusOK, echo.Map{
			"status": "ok",
			"store":  store,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
