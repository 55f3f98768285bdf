// Package worker serves inference requests over a JSON-lines pipe.
//
// The protocol is one JSON object per line: requests carry {id, operation,
// data} on stdin, responses carry {id, result} or {id, error} on stdout, in
// request order. Supported operations are ping, process_audio,
// extract_features, load_model, and shutdown. The worker is the backend side
// of the system: it wraps an executor and keeps exactly one model loaded,
// while memory budgeting and retries stay with whatever process drives the
// pipe.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/executor"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

// Operation names on the wire.
const (
	opPing            = "ping"
	opProcessAudio    = "process_audio"
	opExtractFeatures = "extract_features"
	opLoadModel       = "load_model"
	opShutdown        = "shutdown"
)

// maxLineBytes caps one request line. Inline audio dominates line size; a
// minute of 16 kHz samples encodes to roughly 10 MB of JSON, so this admits
// clips several minutes long.
const maxLineBytes = 64 * 1024 * 1024

const component = "worker"

// deviceName is what ping reports. The executors here run on the host CPU;
// there is no accelerator discovery.
const deviceName = "cpu"

// request is one decoded input line. ID is kept raw so numeric and string
// identifiers echo back exactly as the client sent them.
type request struct {
	ID        json.RawMessage `json:"id"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

// response is one output line. Result and Error are mutually exclusive.
type response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Service runs the request loop against a single executor backend.
//
// A Service is driven by one goroutine; requests are processed strictly in
// order and the loaded-model state is only touched from the loop.
type Service struct {
	settings *conf.Settings
	exec     executor.Executor
	metrics  *metrics.WorkerMetrics
	logger   *slog.Logger

	current model.Type
	loaded  bool
}

// NewService wires a worker around the given executor backend.
func NewService(settings *conf.Settings, exec executor.Executor, m *metrics.WorkerMetrics) *Service {
	return &Service{
		settings: settings,
		exec:     exec,
		metrics:  m,
		logger:   logging.ForService(component),
	}
}

// Run serves requests from in until the stream ends, a shutdown request
// arrives, or the context is cancelled. Cancellation is observed between
// requests; every decoded request gets a response before the loop advances.
// Lines that fail to decode are logged and skipped without a response.
func (s *Service) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(out)

	s.logger.Info("worker started", "executor", s.exec.Name())
	defer s.logger.Info("worker stopped")

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if s.metrics != nil {
				s.metrics.RecordDecodeFailure()
			}
			s.logger.Error("invalid request line", "error", err)
			continue
		}

		resp, done := s.dispatch(ctx, &req)
		if err := enc.Encode(resp); err != nil {
			return errors.New(err).
				Component(component).
				Category(errors.CategoryFileIO).
				Context("operation", req.Operation).
				Build()
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}

// dispatch runs one request and reports whether the loop should stop.
func (s *Service) dispatch(ctx context.Context, req *request) (resp response, done bool) {
	start := time.Now()
	resp.ID = req.ID

	var result any
	var err error
	switch req.Operation {
	case opPing:
		result = s.ping()
	case opProcessAudio:
		result, err = s.processAudio(ctx, req.Data)
	case opExtractFeatures:
		result, err = s.extractFeatures(ctx, req.Data)
	case opLoadModel:
		result, err = s.loadModel(ctx, req.Data)
	case opShutdown:
		result = statusResult{Status: "shutdown"}
		done = true
		s.logger.Info("shutdown requested")
	default:
		err = errors.Newf("unknown operation %q", req.Operation).
			Component(component).
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Build()
	}

	status := "ok"
	if err != nil {
		status = "error"
		resp.Error = err.Error()
		s.logger.Error("request failed", "operation", req.Operation, "error", err)
	} else {
		resp.Result = result
	}
	if s.metrics != nil {
		s.metrics.RecordRequest(req.Operation, status, time.Since(start).Seconds())
	}
	return resp, done
}

// ensureLoaded loads the default model on first use, mirroring backends that
// lazily initialize when the first request arrives before any load_model.
func (s *Service) ensureLoaded(ctx context.Context) (model.Type, error) {
	if s.loaded {
		return s.current, nil
	}
	mt, err := s.defaultModel()
	if err != nil {
		return model.Type{}, err
	}
	if err := s.exec.LoadModel(ctx, mt); err != nil {
		return model.Type{}, err
	}
	s.current, s.loaded = mt, true
	s.logger.Info("model loaded", "model_id", mt.ID)
	return mt, nil
}

// defaultModel resolves the configured default, falling back to the first
// catalog entry when no default is set or the configured one is unknown.
func (s *Service) defaultModel() (model.Type, error) {
	catalog := s.settings.ModelCatalog()
	if len(catalog) == 0 {
		return model.Type{}, errors.Newf("model catalog is empty").
			Component(component).
			Category(errors.CategoryModelLoad).
			Kind(errors.KindModelError).
			Build()
	}
	if id := s.settings.Models.Default; id != "" {
		if mt, ok := findModel(catalog, id); ok {
			return mt, nil
		}
		s.logger.Warn("configured default model not in catalog", "model_id", id)
	}
	return catalog[0], nil
}

func findModel(catalog []model.Type, id string) (model.Type, bool) {
	for _, mt := range catalog {
		if mt.ID == id {
			return mt, true
		}
	}
	return model.Type{}, false
}
