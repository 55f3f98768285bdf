package conf

import (
	"fmt"
	"strconv"

	"github.com/audiohub/audiohub-go/internal/errors"
)

// ValidateSettings checks the loaded settings for values that would make
// the service misbehave at runtime. The first failing section wins; the
// error names the offending key.
func ValidateSettings(settings *Settings) error {
	validators := []func(*Settings) error{
		validateOrchestrator,
		validateModels,
		validateRetry,
		validatePool,
		validateAudio,
		validateExecutor,
		validateWebServer,
		validateOutput,
		validateExport,
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			return err
		}
	}
	return nil
}

func validateOrchestrator(s *Settings) error {
	if s.Orchestrator.MemoryLimit <= 0 {
		return validationError("orchestrator.memorylimit", "must be a positive number of MB")
	}
	if s.Orchestrator.MaxAttempts < 1 {
		return validationError("orchestrator.maxattempts", "must allow at least one attempt")
	}
	return nil
}

func validateModels(s *Settings) error {
	if len(s.Models.Catalog) == 0 {
		return validationError("models.catalog", "must contain at least one model type")
	}

	seen := make(map[string]bool, len(s.Models.Catalog))
	for i, mc := range s.Models.Catalog {
		if mc.ID == "" {
			return validationError(fmt.Sprintf("models.catalog[%d].id", i), "must not be empty")
		}
		if seen[mc.ID] {
			return validationError("models.catalog", fmt.Sprintf("duplicate model id %q", mc.ID))
		}
		seen[mc.ID] = true
		if mc.Memory <= 0 {
			return validationError(fmt.Sprintf("models.catalog[%d].memory", i), "must be a positive number of MB")
		}
		if !mc.Transcription && !mc.Synthesis {
			return validationError(fmt.Sprintf("models.catalog[%d]", i), "must have at least one capability")
		}
	}

	if s.Models.Default != "" && !seen[s.Models.Default] {
		return validationError("models.default", fmt.Sprintf("model %q is not in the catalog", s.Models.Default))
	}
	if s.Models.Fallback != "" && !seen[s.Models.Fallback] {
		return validationError("models.fallback", fmt.Sprintf("model %q is not in the catalog", s.Models.Fallback))
	}
	return nil
}

func validateRetry(s *Settings) error {
	if s.Retry.InitialDelay <= 0 {
		return validationError("retry.initialdelay", "must be a positive number of milliseconds")
	}
	if s.Retry.MaxDelay < s.Retry.InitialDelay {
		return validationError("retry.maxdelay", "must not be below retry.initialdelay")
	}
	if s.Retry.Multiplier < 1.0 {
		return validationError("retry.multiplier", "must be at least 1.0")
	}
	if s.Retry.Jitter < 0 {
		return validationError("retry.jitter", "must not be negative")
	}
	return nil
}

func validatePool(s *Settings) error {
	if s.Pool.MemoryCapacity <= 0 {
		return validationError("pool.memorycapacity", "must be a positive number of MB")
	}
	if s.Pool.CPUCapacity < 0 {
		return validationError("pool.cpucapacity", "must be zero (detect) or positive")
	}
	if s.Pool.StorageCapacity <= 0 {
		return validationError("pool.storagecapacity", "must be a positive number of MB")
	}
	if s.Pool.LowWatermark <= 0 || s.Pool.LowWatermark >= 1 {
		return validationError("pool.lowwatermark", "must be between 0 and 1 exclusive")
	}
	if s.Pool.HighWatermark <= s.Pool.LowWatermark || s.Pool.HighWatermark > 1 {
		return validationError("pool.highwatermark", "must be above pool.lowwatermark and at most 1")
	}
	if s.Pool.FailureRateThreshold < 0 || s.Pool.FailureRateThreshold > 1 {
		return validationError("pool.failureratethreshold", "must be between 0 and 1")
	}
	if s.Pool.MonitorInterval <= 0 {
		return validationError("pool.monitorinterval", "must be a positive number of seconds")
	}
	if s.Pool.BufferSize <= 0 {
		return validationError("pool.buffersize", "must be a positive number of bytes")
	}
	return nil
}

func validateAudio(s *Settings) error {
	if s.Audio.SampleRate <= 0 {
		return validationError("audio.samplerate", "must be a positive sample rate")
	}
	if s.Audio.ChunkSeconds <= 0 {
		return validationError("audio.chunkseconds", "must be positive")
	}
	if s.Audio.OverlapSeconds < 0 || s.Audio.OverlapSeconds >= s.Audio.ChunkSeconds {
		return validationError("audio.overlapseconds", "must be non-negative and below audio.chunkseconds")
	}
	if s.Audio.StreamBuffer <= 0 {
		return validationError("audio.streambuffer", "must be a positive number of KB")
	}
	return nil
}

func validateExecutor(s *Settings) error {
	switch s.Executor.Type {
	case "local":
	case "http":
		if s.Executor.HTTP.BaseURL == "" {
			return validationError("executor.http.baseurl", "required when executor.type is http")
		}
		if s.Executor.HTTP.Timeout <= 0 {
			return validationError("executor.http.timeout", "must be a positive number of seconds")
		}
		if s.Executor.HTTP.RateLimit <= 0 {
			return validationError("executor.http.ratelimit", "must be positive")
		}
	case "tflite":
		if s.Executor.TFLite.ModelPath == "" {
			return validationError("executor.tflite.modelpath", "required when executor.type is tflite")
		}
	default:
		return validationError("executor.type", fmt.Sprintf("unknown executor type %q", s.Executor.Type))
	}
	return nil
}

func validateWebServer(s *Settings) error {
	if !s.WebServer.Enabled {
		return nil
	}
	if err := validatePort(s.WebServer.Port); err != nil {
		return validationError("webserver.port", err.Error())
	}
	if s.WebServer.RateLimit <= 0 {
		return validationError("webserver.ratelimit", "must be positive")
	}
	return nil
}

func validateOutput(s *Settings) error {
	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		return validationError("output", "sqlite and mysql must not be enabled together")
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		return validationError("output.sqlite.path", "required when sqlite is enabled")
	}
	if s.Output.MySQL.Enabled {
		if s.Output.MySQL.Username == "" || s.Output.MySQL.Database == "" || s.Output.MySQL.Host == "" {
			return validationError("output.mysql", "username, database, and host are required when mysql is enabled")
		}
		if err := validatePort(s.Output.MySQL.Port); err != nil {
			return validationError("output.mysql.port", err.Error())
		}
	}
	return nil
}

func validateExport(s *Settings) error {
	if !s.Export.Enabled {
		return nil
	}
	switch s.Export.Type {
	case "ftp", "sftp":
	default:
		return validationError("export.type", fmt.Sprintf("unknown export type %q", s.Export.Type))
	}
	if s.Export.Host == "" {
		return validationError("export.host", "required when export is enabled")
	}
	if err := validatePort(s.Export.Port); err != nil {
		return validationError("export.port", err.Error())
	}
	return nil
}

func validatePort(port string) error {
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

func validationError(key, reason string) error {
	return errors.Newf("invalid setting %s: %s", key, reason).
		Component("configuration").
		Category(errors.CategoryValidation).
		Context("setting", key).
		Build()
}
