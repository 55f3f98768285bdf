package executor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/patrickmn/go-cache"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/httpclient"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

// Routes of the remote inference service.
const (
	remoteHealthPath  = "/health"
	remoteLoadPath    = "/models/load"
	remoteProcessPath = "/process/wav2vec2"
)

const (
	healthCacheKey = "health"
	modelsCacheKey = "models"

	defaultRemoteRateLimit = 10.0
	defaultRemoteCacheTTL  = 30 * time.Second
)

// RemoteExecutor drives a remote inference HTTP service. Requests pass
// through the shared httpclient, an outbound rate limiter, and a short-TTL
// cache for health probes so the orchestrator can poll without hammering
// the backend.
type RemoteExecutor struct {
	baseURL string
	client  *httpclient.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	metrics *metrics.ExecutorMetrics
	logger  *slog.Logger

	mu     sync.Mutex
	loaded map[string]model.Type
}

// NewRemote creates the HTTP backend from settings.Executor.HTTP.
func NewRemote(settings *conf.Settings, m *metrics.ExecutorMetrics) (*RemoteExecutor, error) {
	httpSettings := settings.Executor.HTTP
	base := strings.TrimRight(httpSettings.BaseURL, "/")
	if base == "" {
		return nil, errors.Newf("http executor requires a base URL").
			Component("executor").
			Category(errors.CategoryConfiguration).
			Kind(errors.KindInvalidInput).
			Build()
	}

	clientCfg := httpclient.Config{
		DefaultTimeout: time.Duration(httpSettings.Timeout) * time.Second,
	}

	rps := httpSettings.RateLimit
	if rps <= 0 {
		rps = defaultRemoteRateLimit
	}
	burst := httpSettings.Burst
	if burst <= 0 {
		burst = 1
	}

	ttl := time.Duration(httpSettings.CacheTTL) * time.Second
	if ttl <= 0 {
		ttl = defaultRemoteCacheTTL
	}

	return &RemoteExecutor{
		baseURL: base,
		client:  httpclient.New(&clientCfg),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		cache:   cache.New(ttl, ttl*2),
		metrics: m,
		logger:  logging.ForService("executor").With("backend", BackendHTTP),
		loaded:  make(map[string]model.Type),
	}, nil
}

// Name implements Executor.
func (e *RemoteExecutor) Name() string { return BackendHTTP }

// LoadModel implements Executor by asking the backend to load the model.
// The model's Name doubles as the backend-side model path.
func (e *RemoteExecutor) LoadModel(ctx context.Context, mt model.Type) error {
	if err := mt.Valid(); err != nil {
		return errors.New(err).
			Component("executor").
			Category(errors.CategoryModelLoad).
			Kind(errors.KindInvalidInput).
			Context("backend", BackendHTTP).
			Build()
	}
	if err := e.wait(ctx); err != nil {
		return err
	}

	path := mt.Name
	if path == "" {
		path = mt.ID
	}
	payload := map[string]any{
		"name":       mt.ID,
		"path":       path,
		"parameters": map[string]any{},
	}

	body, err := e.client.PostJSON(ctx, e.baseURL+remoteLoadPath, payload)
	if err != nil {
		return err
	}

	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return e.malformedResponse(err, remoteLoadPath)
	}
	if success, serr := obj.GetBoolean("success"); serr != nil || !success {
		message, _ := obj.GetString("message")
		return errors.Newf("remote backend refused to load model %s: %s", mt.ID, message).
			Component("executor").
			Category(errors.CategoryModelLoad).
			Kind(errors.KindModel).
			Context("backend", BackendHTTP).
			Context("model_id", mt.ID).
			Build()
	}

	e.mu.Lock()
	e.loaded[mt.ID] = mt
	e.mu.Unlock()
	e.cache.Delete(healthCacheKey)
	e.logger.Debug("model load requested", "model_id", mt.ID, "path", path)
	return nil
}

// UnloadModel implements Executor. The remote service manages its own model
// cache and exposes no unload route, so only local bookkeeping is dropped.
func (e *RemoteExecutor) UnloadModel(_ context.Context, mt model.Type) error {
	e.mu.Lock()
	delete(e.loaded, mt.ID)
	e.mu.Unlock()
	e.logger.Debug("model unloaded locally", "model_id", mt.ID)
	return nil
}

// Execute implements Executor. Transcription and feature extraction both go
// through the processing route; the backend decides the task from options.
func (e *RemoteExecutor) Execute(ctx context.Context, step model.Step) (model.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return model.StepResult{}, err
	}
	e.mu.Lock()
	_, ok := e.loaded[step.Model.ID]
	e.mu.Unlock()
	if !ok {
		return model.StepResult{}, notLoadedError(BackendHTTP, step.Model)
	}

	start := time.Now()
	var result model.StepResult
	var err error
	switch step.Operation {
	case model.OpTranscribe, model.OpExtractFeatures:
		result, err = e.process(ctx, step)
	default:
		err = unsupportedOperationError(BackendHTTP, step.Operation)
	}

	elapsed := time.Since(start)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	if e.metrics != nil {
		e.metrics.RecordOperation(BackendHTTP, string(step.Operation), status, elapsed.Seconds())
		if err == nil {
			e.metrics.RecordOutput(len(result.Segments), result.FeatureFrames)
		}
	}
	if err != nil {
		return model.StepResult{}, err
	}

	result.Operation = step.Operation
	result.Duration = elapsed
	return result, nil
}

// process posts the audio payload and maps the JSON response onto a step
// result for the requested operation.
func (e *RemoteExecutor) process(ctx context.Context, step model.Step) (model.StepResult, error) {
	samples := step.Input.Samples
	if len(samples) == 0 {
		return model.StepResult{}, emptyInputError(BackendHTTP, step.Operation)
	}
	sampleRate := step.Input.SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	if err := e.wait(ctx); err != nil {
		return model.StepResult{}, err
	}

	payload := map[string]any{
		"audio":      samples,
		"sampleRate": sampleRate,
		"options": map[string]any{
			"model": step.Model.ID,
			"task":  string(step.Operation),
		},
	}

	body, err := e.client.PostJSON(ctx, e.baseURL+remoteProcessPath, payload)
	if err != nil {
		return model.StepResult{}, err
	}

	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return model.StepResult{}, e.malformedResponse(err, remoteProcessPath)
	}

	if step.Operation == model.OpTranscribe {
		return e.transcriptionResult(obj, step.Model)
	}
	return e.featureResult(obj)
}

// transcriptionResult extracts transcript text and optional segments.
func (e *RemoteExecutor) transcriptionResult(obj *jason.Object, mt model.Type) (model.StepResult, error) {
	transcription, err := obj.GetString("transcription")
	if err != nil {
		return model.StepResult{}, errors.Newf("remote backend returned no transcription for model %s", mt.ID).
			Component("executor").
			Category(errors.CategoryExecutor).
			Kind(errors.KindModel).
			Context("backend", BackendHTTP).
			Context("model_id", mt.ID).
			Build()
	}

	var segments []model.Segment
	if rawSegments, serr := obj.GetObjectArray("segments"); serr == nil {
		segments = make([]model.Segment, 0, len(rawSegments))
		for _, raw := range rawSegments {
			text, _ := raw.GetString("text")
			startSec, _ := raw.GetFloat64("start")
			endSec, _ := raw.GetFloat64("end")
			confidence, _ := raw.GetFloat64("confidence")
			segments = append(segments, model.Segment{
				Start:      secondsDuration(startSec),
				End:        secondsDuration(endSec),
				Text:       text,
				Confidence: confidence,
			})
		}
	}

	return model.StepResult{
		Output:   model.OutputText,
		Text:     norm.NFC.String(transcription),
		Segments: segments,
	}, nil
}

// featureResult extracts the feature grid shape. The backend reports shape
// in metadata; a flat vector without one counts as a single frame.
func (e *RemoteExecutor) featureResult(obj *jason.Object) (model.StepResult, error) {
	frames, dim := 1, 0

	if shapeVals, err := obj.GetValueArray("metadata", "shape"); err == nil {
		dims := make([]int, 0, len(shapeVals))
		for _, v := range shapeVals {
			if n, nerr := v.Int64(); nerr == nil {
				dims = append(dims, int(n))
				continue
			}
			if f, ferr := v.Float64(); ferr == nil {
				dims = append(dims, int(f))
			}
		}
		switch len(dims) {
		case 1:
			dim = dims[0]
		case 2:
			frames, dim = dims[0], dims[1]
		}
	}

	if dim == 0 {
		featureVals, err := obj.GetValueArray("features")
		if err != nil {
			return model.StepResult{}, errors.Newf("remote backend returned no features").
				Component("executor").
				Category(errors.CategoryExecutor).
				Kind(errors.KindModel).
				Context("backend", BackendHTTP).
				Build()
		}
		dim = len(featureVals)
	}

	return model.StepResult{
		Output:        model.OutputFeatures,
		FeatureFrames: frames,
		FeatureDim:    dim,
	}, nil
}

// Healthy probes the backend's health route, serving repeated calls from a
// short-TTL cache. A nil return means the backend reported status ok.
func (e *RemoteExecutor) Healthy(ctx context.Context) error {
	if _, found := e.cache.Get(healthCacheKey); found {
		if e.metrics != nil {
			e.metrics.RecordRemoteCache(true)
		}
		return nil
	}
	if e.metrics != nil {
		e.metrics.RecordRemoteCache(false)
	}

	if err := e.wait(ctx); err != nil {
		return err
	}
	body, err := e.client.GetBytes(ctx, e.baseURL+remoteHealthPath)
	if err != nil {
		return err
	}

	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return e.malformedResponse(err, remoteHealthPath)
	}
	status, _ := obj.GetString("status")
	if status != "ok" {
		return errors.Newf("remote backend reports status %q", status).
			Component("executor").
			Category(errors.CategoryNetwork).
			Kind(errors.KindConnection).
			Context("backend", BackendHTTP).
			Build()
	}

	if names, nerr := obj.GetStringArray("models"); nerr == nil {
		e.cache.Set(modelsCacheKey, names, cache.DefaultExpiration)
	}
	e.cache.Set(healthCacheKey, status, cache.DefaultExpiration)
	return nil
}

// RemoteModels returns the model names the backend reported on the last
// successful health probe, if that probe is still cached.
func (e *RemoteExecutor) RemoteModels() ([]string, bool) {
	cached, found := e.cache.Get(modelsCacheKey)
	if !found {
		return nil, false
	}
	names, ok := cached.([]string)
	return names, ok
}

// Close implements Executor.
func (e *RemoteExecutor) Close() error {
	e.cache.Flush()
	e.client.Close()
	return nil
}

// wait blocks on the outbound rate limiter, recording delayed requests.
func (e *RemoteExecutor) wait(ctx context.Context) error {
	if e.limiter.Tokens() < 1 && e.metrics != nil {
		e.metrics.RecordRateLimitWait()
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return errors.New(err).
			Component("executor").
			Category(errors.CategoryNetwork).
			Context("backend", BackendHTTP).
			Context("operation", "rate_limiter_wait").
			Build()
	}
	return nil
}

func (e *RemoteExecutor) malformedResponse(err error, route string) error {
	return errors.New(err).
		Component("executor").
		Category(errors.CategoryHTTP).
		Kind(errors.KindModel).
		Context("backend", BackendHTTP).
		Context("route", route).
		Context("operation", "parse_response").
		Build()
}

// secondsDuration converts a float seconds value to a Duration.
func secondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
