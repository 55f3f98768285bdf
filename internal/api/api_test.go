// internal/api/api_test.go
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/datastore"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/executor"
	"github.com/audiohub/audiohub-go/internal/health"
	"github.com/audiohub/audiohub-go/internal/orchestrator"
	"github.com/audiohub/audiohub-go/internal/pool"
)

// apiTestSettings builds settings with a small catalog, fast retries, a
// generous pool, and the web server left open: no token, no rate limit.
func apiTestSettings(catalog ...conf.ModelTypeConfig) *conf.Settings {
	s := &conf.Settings{}
	s.Orchestrator.MemoryLimit = 1024
	s.Orchestrator.MaxAttempts = 3
	s.Retry.InitialDelay = 1
	s.Retry.MaxDelay = 5
	s.Retry.Multiplier = 2.0
	s.Models.Catalog = catalog
	s.Pool.MemoryCapacity = 8192
	s.Pool.CPUCapacity = 4
	s.Pool.StorageCapacity = 1024
	s.Pool.LowWatermark = 0.7
	s.Pool.HighWatermark = 0.9
	s.Pool.FailureRateThreshold = 0.5
	s.Audio.SampleRate = 16000
	s.Audio.ChunkSeconds = 1.0
	return s
}

func transcriberConfig(id string, memoryMB int64) conf.ModelTypeConfig {
	return conf.ModelTypeConfig{ID: id, Name: id, Memory: memoryMB, Transcription: true}
}

func synthesizerConfig(id string, memoryMB int64) conf.ModelTypeConfig {
	return conf.ModelTypeConfig{ID: id, Name: id, Memory: memoryMB, Synthesis: true}
}

// setupTestEnvironment wires a controller around a real orchestrator on
// the simulator backend and a temp-dir SQLite history. Tests that want
// results persisted register the datastore as a sink themselves.
func setupTestEnvironment(t *testing.T, settings *conf.Settings, opts ...Option) (*echo.Echo, *Controller) {
	t.Helper()

	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "api-test.db")

	ds := datastore.New(settings)
	require.NotNil(t, ds, "SQLite store should be selected")
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })

	local := executor.NewLocal(settings, nil)
	t.Cleanup(func() { _ = local.Close() })

	p, err := pool.FromSettings(settings)
	require.NoError(t, err)
	orch, err := orchestrator.New(settings, local, p)
	require.NoError(t, err)

	e := echo.New()
	controller, err := New(e, orch, ds, health.NewTracker(ds), settings, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = controller.Close() })
	return e, controller
}

// doJSON runs a request through the full router, middleware included.
func doJSON(t *testing.T, e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
		"response body should be valid JSON: %s", rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	e, _ := setupTestEnvironment(t, apiTestSettings(transcriberConfig("whisper-tiny", 200)))

	rec := doJSON(t, e, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]any
	decodeBody(t, rec, &response)

	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "connected", response["database_status"])

	orch, ok := response["orchestrator"].(map[string]any)
	require.True(t, ok, "orchestrator block should be present")
	assert.Equal(t, "idle", orch["state"])
	assert.Equal(t, float64(0), orch["memory_usage"])
	assert.Equal(t, float64(1), orch["catalog_size"])
	assert.Equal(t, "", orch["resident_model"])

	assert.GreaterOrEqual(t, response["uptime_seconds"].(float64), float64(0))
}

func TestHealthCheckReportsResidency(t *testing.T) {
	t.Parallel()
	e, controller := setupTestEnvironment(t, apiTestSettings(transcriberConfig("whisper-tiny", 200)))

	target := controller.Orchestrator.Catalog()[0]
	require.NoError(t, controller.Orchestrator.LoadModel(t.Context(), target))

	rec := doJSON(t, e, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]any
	decodeBody(t, rec, &response)
	orch := response["orchestrator"].(map[string]any)
	assert.Equal(t, "loaded", orch["state"])
	assert.Equal(t, "whisper-tiny", orch["resident_model"])
	assert.Equal(t, float64(200*1024*1024), orch["memory_usage"])
}

func TestHandleErrorWritesCorrelatedResponse(t *testing.T) {
	t.Parallel()
	e, controller := setupTestEnvironment(t, apiTestSettings(transcriberConfig("whisper-tiny", 200)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := controller.HandleError(c, errors.NewStd("backend exploded"),
		"something failed", http.StatusInternalServerError)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "backend exploded", resp.Error)
	assert.Equal(t, "something failed", resp.Message)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Len(t, resp.CorrelationID, 8)
}

func TestHTTPStatusForMapsErrorKinds(t *testing.T) {
	t.Parallel()

	build := func(cat errors.ErrorCategory, kind errors.Kind) error {
		return errors.Newf("boom").Component("api").Category(cat).Kind(kind).Build()
	}

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", build(errors.CategoryValidation, errors.KindInvalidInput), http.StatusBadRequest},
		{"planning failure", build(errors.CategoryPlanning, errors.KindInvalidInput), http.StatusUnprocessableEntity},
		{"resource exceeded", build(errors.CategoryLimit, errors.KindResourceExceeded), http.StatusServiceUnavailable},
		{"timeout", build(errors.CategoryTimeout, errors.KindTimeout), http.StatusGatewayTimeout},
		{"connection", build(errors.CategoryNetwork, errors.KindConnection), http.StatusBadGateway},
		{"model", build(errors.CategoryModelLoad, errors.KindModel), http.StatusInternalServerError},
		{"plain error", errors.NewStd("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, httpStatusFor(tc.err))
		})
	}
}
