package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access. The
// gateway's own state is in-process, so reaching the handler at all is the
// health check.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
