package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

const (
	// wordSamples is the simulated recognition rate: one transcript word per
	// 8000 samples, half a second of audio at 16 kHz. Synthesis mirrors it,
	// 8000 samples per input word.
	wordSamples = 8000

	// featureHop is the simulated frame hop: one 768-dim feature frame per
	// 20 ms of audio at 16 kHz.
	featureHop = 320
	featureDim = 768

	defaultSampleRate = 16000

	// Simulated memory footprints reported per operation.
	transcribePeakBytes = 100 * 1024 * 1024
	featuresPeakBytes   = 80 * 1024 * 1024
	synthesisPeakBytes  = 100 * 1024 * 1024

	synthBitDepth  = 16
	synthAmplitude = 0.1
	synthToneHz    = 440.0
)

// LocalExecutor simulates inference without any model runtime. The numbers
// it produces follow fixed proportionality rules so callers exercise real
// result shapes with predictable sizes.
type LocalExecutor struct {
	sampleRate int
	synthDir   string
	metrics    *metrics.ExecutorMetrics
	logger     *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	loaded map[string]model.Type
}

// NewLocal creates the simulator backend.
func NewLocal(settings *conf.Settings, m *metrics.ExecutorMetrics) *LocalExecutor {
	rate := settings.Audio.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	seed := time.Now().UnixNano()
	return &LocalExecutor{
		sampleRate: rate,
		synthDir:   filepath.Join(os.TempDir(), "audiohub-synthesis"),
		metrics:    m,
		logger:     logging.ForService("executor").With("backend", BackendLocal),
		rng:        rand.New(rand.NewSource(seed)),
		loaded:     make(map[string]model.Type),
	}
}

// Name implements Executor.
func (e *LocalExecutor) Name() string { return BackendLocal }

// LoadModel implements Executor. Loading is instantaneous in the simulator;
// only the bookkeeping is real.
func (e *LocalExecutor) LoadModel(_ context.Context, mt model.Type) error {
	if err := mt.Valid(); err != nil {
		return errors.New(err).
			Component("executor").
			Category(errors.CategoryModelLoad).
			Kind(errors.KindInvalidInput).
			Context("backend", BackendLocal).
			Build()
	}
	e.mu.Lock()
	e.loaded[mt.ID] = mt
	e.mu.Unlock()
	e.logger.Debug("model loaded", "model_id", mt.ID)
	return nil
}

// UnloadModel implements Executor.
func (e *LocalExecutor) UnloadModel(_ context.Context, mt model.Type) error {
	e.mu.Lock()
	delete(e.loaded, mt.ID)
	e.mu.Unlock()
	e.logger.Debug("model unloaded", "model_id", mt.ID)
	return nil
}

// Execute implements Executor.
func (e *LocalExecutor) Execute(ctx context.Context, step model.Step) (model.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return model.StepResult{}, err
	}
	e.mu.Lock()
	_, ok := e.loaded[step.Model.ID]
	e.mu.Unlock()
	if !ok {
		return model.StepResult{}, notLoadedError(BackendLocal, step.Model)
	}

	start := time.Now()
	var result model.StepResult
	var err error
	switch step.Operation {
	case model.OpTranscribe:
		result, err = e.transcribe(step)
	case model.OpExtractFeatures:
		result, err = e.extractFeatures(step)
	case model.OpSynthesize:
		result, err = e.synthesize(step)
	default:
		err = unsupportedOperationError(BackendLocal, step.Operation)
	}

	elapsed := time.Since(start)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	if e.metrics != nil {
		e.metrics.RecordOperation(BackendLocal, string(step.Operation), status, elapsed.Seconds())
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

// transcribe produces one "Word N" per wordSamples of input, with segment
// boundaries spread evenly across the audio.
func (e *LocalExecutor) transcribe(step model.Step) (model.StepResult, error) {
	samples := step.Input.Samples
	if len(samples) == 0 {
		return model.StepResult{}, emptyInputError(BackendLocal, step.Operation)
	}
	rate := step.Input.SampleRate
	if rate <= 0 {
		rate = e.sampleRate
	}

	wordCount := max(1, len(samples)/wordSamples)
	segmentLen := len(samples) / wordCount

	words := make([]string, 0, wordCount)
	segments := make([]model.Segment, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		text := fmt.Sprintf("Word %d", i+1)
		words = append(words, text)
		segments = append(segments, model.Segment{
			Start:      sampleDuration(i*segmentLen, rate),
			End:        sampleDuration((i+1)*segmentLen, rate),
			Text:       text,
			Confidence: 0.8 + 0.2*e.randFloat(),
		})
	}

	return model.StepResult{
		Output:          model.OutputText,
		Text:            norm.NFC.String(strings.Join(words, " ")),
		Segments:        segments,
		PeakMemoryBytes: transcribePeakBytes,
	}, nil
}

// extractFeatures reports the frame grid a real encoder would emit for this
// input. Frame values are not materialized; only the shape travels.
func (e *LocalExecutor) extractFeatures(step model.Step) (model.StepResult, error) {
	samples := step.Input.Samples
	if len(samples) == 0 {
		return model.StepResult{}, emptyInputError(BackendLocal, step.Operation)
	}

	return model.StepResult{
		Output:          model.OutputFeatures,
		FeatureFrames:   max(1, len(samples)/featureHop),
		FeatureDim:      featureDim,
		PeakMemoryBytes: featuresPeakBytes,
	}, nil
}

// synthesize renders a placeholder tone sized at wordSamples per input word
// and writes it as a 16-bit mono WAV artifact.
func (e *LocalExecutor) synthesize(step model.Step) (model.StepResult, error) {
	text := strings.TrimSpace(step.Input.Text)
	if text == "" {
		return model.StepResult{}, emptyInputError(BackendLocal, step.Operation)
	}

	wordCount := max(1, len(strings.Fields(text)))
	total := wordCount * wordSamples

	pcm := make([]int, total)
	scale := synthAmplitude * float64(math.MaxInt16)
	for i := range pcm {
		t := float64(i) / float64(e.sampleRate)
		pcm[i] = int(scale * math.Sin(2*math.Pi*synthToneHz*t))
	}

	path := filepath.Join(e.synthDir, fmt.Sprintf("synth-%s.wav", uuid.New().String()))
	if err := writeWAV(path, pcm, e.sampleRate); err != nil {
		return model.StepResult{}, errors.New(err).
			Component("executor").
			Category(errors.CategoryFileIO).
			Context("backend", BackendLocal).
			Context("path", path).
			Build()
	}

	return model.StepResult{
		Output:          model.OutputAudio,
		AudioRef:        path,
		PeakMemoryBytes: synthesisPeakBytes,
	}, nil
}

// Close implements Executor.
func (e *LocalExecutor) Close() error {
	e.mu.Lock()
	e.loaded = make(map[string]model.Type)
	e.mu.Unlock()
	return nil
}

func (e *LocalExecutor) randFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

// sampleDuration converts a sample offset to wall time at the given rate.
func sampleDuration(samples, rate int) time.Duration {
	return time.Duration(float64(samples) / float64(rate) * float64(time.Second))
}

// writeWAV encodes mono 16-bit PCM to path, creating parent directories.
func writeWAV(path string, pcm []int, rate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer func() {
		_ = out.Close()
	}()

	enc := wav.NewEncoder(out, rate, synthBitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Data:   pcm,
		Format: &audio.Format{SampleRate: rate, NumChannels: 1},
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	return enc.Close()
}
