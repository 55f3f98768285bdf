package worker

import (
	"context"
	"encoding/json"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
)

// overallConfidence is the fixed top-level confidence reported alongside
// per-segment confidences.
const overallConfidence = 0.9

// audioPayload is the data object carried by process_audio and
// extract_features requests. SampleRate is optional; the configured rate
// applies when it is absent.
type audioPayload struct {
	Audio struct {
		Data       []float32 `json:"data"`
		SampleRate int       `json:"sample_rate"`
	} `json:"audio"`
	Options map[string]any `json:"options"`
}

// loadModelPayload is the data object carried by load_model requests.
// ModelPath names a catalog entry; device and quantization are accepted for
// protocol compatibility and logged, the executors pick their own runtime.
type loadModelPayload struct {
	ModelPath string `json:"model_path"`
	Options   struct {
		Device       string `json:"device"`
		Quantization string `json:"quantization"`
	} `json:"options"`
}

type pingResult struct {
	Status          string `json:"status"`
	Device          string `json:"device"`
	MemoryAvailable int64  `json:"memory_available"`
}

type statusResult struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
}

type memoryUsage struct {
	Peak    int64 `json:"peak"`
	Current int64 `json:"current"`
}

type segmentResult struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type transcriptionResult struct {
	Transcription  string          `json:"transcription"`
	Confidence     float64         `json:"confidence"`
	Segments       []segmentResult `json:"segments"`
	Duration       float64         `json:"duration"`
	WordCount      int             `json:"word_count"`
	ProcessingTime int64           `json:"processing_time"`
	MemoryUsage    memoryUsage     `json:"memory_usage"`
}

// featuresResult reports the frame grid without materializing frame values;
// consumers only ever read the shape.
type featuresResult struct {
	Metadata       featureMetadata `json:"metadata"`
	ProcessingTime int64           `json:"processing_time"`
	MemoryUsage    memoryUsage     `json:"memory_usage"`
}

type featureMetadata struct {
	Type       string `json:"type"`
	Model      string `json:"model"`
	Dimensions []int  `json:"dimensions"`
	SampleRate int    `json:"sample_rate"`
	TimeSteps  int    `json:"time_steps"`
}

// ping reports liveness. Available memory is the configured residency
// budget, the only memory ceiling this process answers for.
func (s *Service) ping() pingResult {
	return pingResult{
		Status:          "ok",
		Device:          deviceName,
		MemoryAvailable: s.settings.MemoryLimitBytes(),
	}
}

// processAudio transcribes the inline samples with the loaded model.
func (s *Service) processAudio(ctx context.Context, data json.RawMessage) (any, error) {
	payload, err := decodeAudio(data, opProcessAudio)
	if err != nil {
		return nil, err
	}
	mt, err := s.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	input := s.audioInput(payload)
	res, err := s.exec.Execute(ctx, model.Step{
		Model:          mt,
		Operation:      model.OpTranscribe,
		Input:          input,
		ExpectedOutput: model.OutputText,
	})
	if err != nil {
		return nil, err
	}

	segments := make([]segmentResult, 0, len(res.Segments))
	for _, seg := range res.Segments {
		segments = append(segments, segmentResult{
			Text:       seg.Text,
			Start:      seg.Start.Seconds(),
			End:        seg.End.Seconds(),
			Confidence: seg.Confidence,
		})
	}

	return transcriptionResult{
		Transcription:  res.Text,
		Confidence:     overallConfidence,
		Segments:       segments,
		Duration:       input.Duration().Seconds(),
		WordCount:      len(segments),
		ProcessingTime: res.Duration.Milliseconds(),
		MemoryUsage:    memoryFrom(res.PeakMemoryBytes),
	}, nil
}

// extractFeatures reports the feature-frame shape for the inline samples.
func (s *Service) extractFeatures(ctx context.Context, data json.RawMessage) (any, error) {
	payload, err := decodeAudio(data, opExtractFeatures)
	if err != nil {
		return nil, err
	}
	mt, err := s.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	input := s.audioInput(payload)
	res, err := s.exec.Execute(ctx, model.Step{
		Model:          mt,
		Operation:      model.OpExtractFeatures,
		Input:          input,
		ExpectedOutput: model.OutputFeatures,
	})
	if err != nil {
		return nil, err
	}

	return featuresResult{
		Metadata: featureMetadata{
			Type:       "audio_features",
			Model:      mt.ID,
			Dimensions: []int{res.FeatureFrames, res.FeatureDim},
			SampleRate: input.SampleRate,
			TimeSteps:  res.FeatureFrames,
		},
		ProcessingTime: res.Duration.Milliseconds(),
		MemoryUsage:    memoryFrom(res.PeakMemoryBytes),
	}, nil
}

// loadModel switches the worker to the named catalog model, unloading the
// previous one first. An empty model_path selects the configured default.
func (s *Service) loadModel(ctx context.Context, data json.RawMessage) (any, error) {
	var payload loadModelPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, decodeError(err, opLoadModel)
		}
	}

	var next model.Type
	if payload.ModelPath == "" {
		mt, err := s.defaultModel()
		if err != nil {
			return nil, err
		}
		next = mt
	} else {
		mt, ok := findModel(s.settings.ModelCatalog(), payload.ModelPath)
		if !ok {
			return nil, errors.Newf("unknown model %q", payload.ModelPath).
				Component(component).
				Category(errors.CategoryValidation).
				Kind(errors.KindInvalidInput).
				Context("model_id", payload.ModelPath).
				Build()
		}
		next = mt
	}

	if payload.Options.Device != "" || payload.Options.Quantization != "" {
		s.logger.Debug("load options noted",
			"device", payload.Options.Device,
			"quantization", payload.Options.Quantization)
	}

	if s.loaded && s.current.ID != next.ID {
		if err := s.exec.UnloadModel(ctx, s.current); err != nil {
			return nil, err
		}
		s.loaded = false
	}
	if err := s.exec.LoadModel(ctx, next); err != nil {
		return nil, err
	}
	s.current, s.loaded = next, true
	s.logger.Info("model loaded", "model_id", next.ID)

	return statusResult{Status: "ok", Model: next.ID}, nil
}

// audioInput builds the step input, defaulting the sample rate from config.
func (s *Service) audioInput(payload audioPayload) model.TaskInput {
	input := model.TaskInput{
		Samples:    payload.Audio.Data,
		SampleRate: payload.Audio.SampleRate,
	}
	if input.SampleRate <= 0 {
		input.SampleRate = s.settings.Audio.SampleRate
	}
	return input
}

// memoryFrom reports the residency split the backends expose: current
// settles at half of peak once a step completes.
func memoryFrom(peak int64) memoryUsage {
	return memoryUsage{Peak: peak, Current: peak / 2}
}

func decodeAudio(data json.RawMessage, op string) (audioPayload, error) {
	var payload audioPayload
	if len(data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, decodeError(err, op)
	}
	return payload, nil
}

func decodeError(err error, op string) error {
	return errors.New(err).
		Component(component).
		Category(errors.CategoryValidation).
		Kind(errors.KindInvalidInput).
		Context("operation", op).
		Build()
}
