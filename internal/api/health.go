// internal/api/health.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthCheck reports the current health snapshot together with the
// orchestrator's model residency and memory accounting. It is publicly
// accessible so load balancers can probe it without a token.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if c.Health != nil {
		state := c.Health.Current()
		response["status"] = string(state.Status)
		response["health"] = state
	}

	orchState := map[string]any{
		"state":          string(c.Orchestrator.State()),
		"memory_usage":   c.Orchestrator.CurrentMemoryUsage(),
		"memory_limit":   c.Orchestrator.MemoryLimit(),
		"resident_model": "",
		"catalog_size":   len(c.Orchestrator.Catalog()),
	}
	if resident, ok := c.Orchestrator.ResidentModel(); ok {
		orchState["resident_model"] = resident.ID
	}
	response["orchestrator"] = orchState

	// Probe the datastore with a cheap query so a broken database surfaces
	// here instead of on the first write.
	if c.DS != nil {
		dbStatus := "connected"
		if _, err := c.DS.RecentTaskRecords(1); err != nil {
			dbStatus = "disconnected"
			response["database_error"] = err.Error()
		}
		response["database_status"] = dbStatus
	}

	uptime := time.Since(c.startTime)
	response["uptime"] = uptime.String()
	response["uptime_seconds"] = uptime.Seconds()

	return ctx.JSON(http.StatusOK, response)
}
