// internal/api/models.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/audiohub/audiohub-go/internal/model"
)

const catalogCacheKey = "models:catalog"

// ModelInfo is one catalog entry in the /models response.
type ModelInfo struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	MemoryBytes  int64            `json:"memory_bytes"`
	Capabilities model.Capability `json:"capabilities"`
	Loaded       bool             `json:"loaded"`
}

// ModelsResponse is the /models payload.
type ModelsResponse struct {
	Models      []ModelInfo `json:"models"`
	MemoryUsage int64       `json:"memory_usage"`
	MemoryLimit int64       `json:"memory_limit"`
}

// LoadModelRequest selects a catalog model to load.
type LoadModelRequest struct {
	ModelID string `json:"model_id"`
}

// GetModels returns the model catalog with per-model residency flags. The
// response is memoized for a few seconds; mutations through this API
// invalidate it immediately, so staleness only covers loads performed by
// concurrently running tasks.
func (c *Controller) GetModels(ctx echo.Context) error {
	if cached, found := c.catalogCache.Get(catalogCacheKey); found {
		if response, ok := cached.(ModelsResponse); ok {
			return ctx.JSON(http.StatusOK, response)
		}
	}

	response := c.buildModelsResponse()
	c.catalogCache.SetDefault(catalogCacheKey, response)
	return ctx.JSON(http.StatusOK, response)
}

func (c *Controller) buildModelsResponse() ModelsResponse {
	residentID := ""
	if resident, ok := c.Orchestrator.ResidentModel(); ok {
		residentID = resident.ID
	}

	catalog := c.Orchestrator.Catalog()
	infos := make([]ModelInfo, 0, len(catalog))
	for _, mt := range catalog {
		infos = append(infos, ModelInfo{
			ID:           mt.ID,
			Name:         mt.Name,
			MemoryBytes:  mt.MemoryRequirement,
			Capabilities: mt.Capabilities,
			Loaded:       mt.ID == residentID,
		})
	}

	return ModelsResponse{
		Models:      infos,
		MemoryUsage: c.Orchestrator.CurrentMemoryUsage(),
		MemoryLimit: c.Orchestrator.MemoryLimit(),
	}
}

// LoadModel loads the requested catalog model, evicting the resident model
// if the budget demands it. Loading the model that is already resident is
// reported as a conflict rather than a silent no-op.
func (c *Controller) LoadModel(ctx echo.Context) error {
	var req LoadModelRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if req.ModelID == "" {
		return c.HandleError(ctx, nil, "model_id is required", http.StatusBadRequest)
	}

	var target model.Type
	found := false
	for _, mt := range c.Orchestrator.Catalog() {
		if mt.ID == req.ModelID {
			target, found = mt, true
			break
		}
	}
	if !found {
		return c.HandleError(ctx, nil, "model not in catalog", http.StatusNotFound)
	}

	if resident, ok := c.Orchestrator.ResidentModel(); ok && resident.ID == req.ModelID {
		return c.HandleError(ctx, nil, "model already loaded", http.StatusConflict)
	}

	if err := c.Orchestrator.LoadModel(ctx.Request().Context(), target); err != nil {
		return c.HandleError(ctx, err, "failed to load model", httpStatusFor(err))
	}

	c.catalogCache.Delete(catalogCacheKey)
	return ctx.JSON(http.StatusOK, map[string]any{
		"loaded":       req.ModelID,
		"memory_usage": c.Orchestrator.CurrentMemoryUsage(),
		"memory_limit": c.Orchestrator.MemoryLimit(),
	})
}

// UnloadModel releases the resident model. Unloading with nothing resident
// succeeds; the operation is idempotent.
func (c *Controller) UnloadModel(ctx echo.Context) error {
	if err := c.Orchestrator.UnloadModel(ctx.Request().Context()); err != nil {
		return c.HandleError(ctx, err, "failed to unload model", httpStatusFor(err))
	}

	c.catalogCache.Delete(catalogCacheKey)
	return ctx.JSON(http.StatusOK, map[string]any{
		"memory_usage": c.Orchestrator.CurrentMemoryUsage(),
	})
}
