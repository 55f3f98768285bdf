// internal/api/models_test.go
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsListsCatalog(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(
		transcriberConfig("whisper-tiny", 200),
		synthesizerConfig("speecht5", 300),
	)
	e, _ := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModelsResponse
	decodeBody(t, rec, &resp)

	require.Len(t, resp.Models, 2)
	assert.Equal(t, "whisper-tiny", resp.Models[0].ID)
	assert.True(t, resp.Models[0].Capabilities.Transcription)
	assert.False(t, resp.Models[0].Loaded)
	assert.Equal(t, int64(200*1024*1024), resp.Models[0].MemoryBytes)
	assert.Equal(t, "speecht5", resp.Models[1].ID)
	assert.True(t, resp.Models[1].Capabilities.Synthesis)

	assert.Zero(t, resp.MemoryUsage)
	assert.Equal(t, int64(1024*1024*1024), resp.MemoryLimit)
}

func TestLoadModelMakesResident(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, controller := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/models/load",
		map[string]string{"model_id": "whisper-tiny"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, "whisper-tiny", resp["loaded"])
	assert.Equal(t, float64(200*1024*1024), resp["memory_usage"])

	resident, ok := controller.Orchestrator.ResidentModel()
	require.True(t, ok)
	assert.Equal(t, "whisper-tiny", resident.ID)

	// The load invalidates the memoized catalog, so the flag is fresh.
	rec = doJSON(t, e, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models ModelsResponse
	decodeBody(t, rec, &models)
	require.Len(t, models.Models, 1)
	assert.True(t, models.Models[0].Loaded)
}

func TestLoadModelValidation(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, _ := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/models/load", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "model_id is required")

	rec = doJSON(t, e, http.MethodPost, "/api/v1/models/load",
		map[string]string{"model_id": "nonexistent"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestLoadModelConflictWhenAlreadyResident(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, _ := setupTestEnvironment(t, settings)

	body := map[string]string{"model_id": "whisper-tiny"}
	rec := doJSON(t, e, http.MethodPost, "/api/v1/models/load", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/models/load", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoadModelOverBudgetMapsToServiceUnavailable(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("gama-xl", 2048)) // over the 1024 MB limit
	e, controller := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/models/load",
		map[string]string{"model_id": "gama-xl"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, controller.Orchestrator.CurrentMemoryUsage())
}

func TestUnloadModelIsIdempotent(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, controller := setupTestEnvironment(t, settings)

	// Nothing resident yet; unload still succeeds.
	rec := doJSON(t, e, http.MethodPost, "/api/v1/models/unload", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/models/load",
		map[string]string{"model_id": "whisper-tiny"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/models/unload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, float64(0), resp["memory_usage"])

	_, ok := controller.Orchestrator.ResidentModel()
	assert.False(t, ok)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/models/unload", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "repeated unload stays a no-op")
}

func TestGetModelsMemoizesResponse(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, controller := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A load that bypasses the API, like one a running task performs, is
	// not visible until the cache entry expires.
	target := controller.Orchestrator.Catalog()[0]
	require.NoError(t, controller.Orchestrator.LoadModel(t.Context(), target))

	rec = doJSON(t, e, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stale ModelsResponse
	decodeBody(t, rec, &stale)
	assert.False(t, stale.Models[0].Loaded, "memoized response is served while fresh")

	controller.catalogCache.Delete(catalogCacheKey)
	rec = doJSON(t, e, http.MethodGet, "/api/v1/models", nil)
	var fresh ModelsResponse
	decodeBody(t, rec, &fresh)
	assert.True(t, fresh.Models[0].Loaded)
}
