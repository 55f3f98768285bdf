// Package conf loads, validates, and persists the application settings.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
)

//go:embed config.yaml
var configFiles embed.FS

// ModelTypeConfig describes one catalog entry in the configuration file.
type ModelTypeConfig struct {
	ID            string `yaml:"id"`            // unique model identifier
	Name          string `yaml:"name"`          // human readable name
	Memory        int64  `yaml:"memory"`        // resident memory requirement in MB
	Transcription bool   `yaml:"transcription"` // model can transcribe speech
	Synthesis     bool   `yaml:"synthesis"`     // model can synthesize speech
	Streaming     bool   `yaml:"streaming"`     // model supports streaming input
}

// ModelsSettings holds the model catalog and selection defaults.
type ModelsSettings struct {
	Catalog  []ModelTypeConfig `yaml:"catalog"`  // available model types
	Default  string            `yaml:"default"`  // model loaded by the load_model worker op when no id is given
	Fallback string            `yaml:"fallback"` // model tried once when loading the planned model fails
}

// OrchestratorSettings controls the model orchestrator.
type OrchestratorSettings struct {
	MemoryLimit int64 `yaml:"memorylimit"` // memory budget for resident models in MB
	MaxAttempts int   `yaml:"maxattempts"` // per-step attempt ceiling including the first try
}

// RetrySettings shapes the exponential backoff between attempts.
type RetrySettings struct {
	InitialDelay int     `yaml:"initialdelay"` // first backoff in milliseconds
	MaxDelay     int     `yaml:"maxdelay"`     // backoff cap in milliseconds
	Multiplier   float64 `yaml:"multiplier"`   // exponential growth factor
	Jitter       int     `yaml:"jitter"`       // uniform random addition in milliseconds
}

// PoolSettings controls the resource pool and its monitor.
type PoolSettings struct {
	MemoryCapacity       int64   `yaml:"memorycapacity"`       // allocatable memory in MB
	CPUCapacity          int     `yaml:"cpucapacity"`          // allocatable cores, 0 = detect
	StorageCapacity      int64   `yaml:"storagecapacity"`      // allocatable scratch storage in MB
	LowWatermark         float64 `yaml:"lowwatermark"`         // warning threshold as usage fraction
	HighWatermark        float64 `yaml:"highwatermark"`        // critical threshold as usage fraction
	FailureRateThreshold float64 `yaml:"failureratethreshold"` // recent allocation failure fraction that forces critical
	MonitorInterval      int     `yaml:"monitorinterval"`      // system gauge sampling interval in seconds
	HysteresisPercent    float64 `yaml:"hysteresispercent"`    // alert clear margin below threshold
	BufferSize           int     `yaml:"buffersize"`           // scratch buffer size in bytes
}

// AudioSettings controls file and stream ingestion.
type AudioSettings struct {
	SampleRate     int     `yaml:"samplerate"`     // target sample rate for model input
	ChunkSeconds   float64 `yaml:"chunkseconds"`   // chunk length handed to executors
	OverlapSeconds float64 `yaml:"overlapseconds"` // overlap between consecutive chunks
	StreamBuffer   int     `yaml:"streambuffer"`   // ring buffer size in KB for streaming ingest
}

// HTTPExecutorSettings configures the remote inference backend.
type HTTPExecutorSettings struct {
	BaseURL   string  `yaml:"baseurl"`   // inference service root URL
	Timeout   int     `yaml:"timeout"`   // request timeout in seconds
	RateLimit float64 `yaml:"ratelimit"` // outbound requests per second
	Burst     int     `yaml:"burst"`     // rate limiter burst
	CacheTTL  int     `yaml:"cachettl"`  // ping/capability cache TTL in seconds
}

// TFLiteExecutorSettings configures the embedded TensorFlow Lite backend.
type TFLiteExecutorSettings struct {
	ModelPath  string `yaml:"modelpath"`  // external model file, empty disables the backend
	Threads    int    `yaml:"threads"`    // interpreter threads, 0 = detect
	UseXNNPACK bool   `yaml:"usexnnpack"` // enable the XNNPACK delegate
}

// ExecutorSettings selects and configures the step executor.
type ExecutorSettings struct {
	Type   string                 `yaml:"type"` // local, http, or tflite
	HTTP   HTTPExecutorSettings   `yaml:"http"`
	TFLite TFLiteExecutorSettings `yaml:"tflite"`
}

// WebServerSettings controls the HTTP API.
type WebServerSettings struct {
	Enabled   bool      `yaml:"enabled"`   // true to enable the API server
	Debug     bool      `yaml:"debug"`     // true to enable debug logging
	Port      string    `yaml:"port"`      // port to listen on
	AuthToken string    `yaml:"authtoken"` // bcrypt hash of the bearer token, empty disables auth
	RateLimit float64   `yaml:"ratelimit"` // requests per second per client
	RateBurst int       `yaml:"rateburst"` // rate limiter burst
	CacheTTL  int       `yaml:"cachettl"`  // catalog response cache TTL in seconds
	Log       LogConfig `yaml:"log"`       // API access log settings
}

// SQLiteSettings contains the SQLite datastore configuration.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // database file path
}

// MySQLSettings contains the MySQL datastore configuration.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// OutputSettings selects where history and snapshots are stored.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// MQTTSettings configures result publishing to a broker.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // tcp://host:port
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"` // 0, 1, or 2
	Retain   bool   `yaml:"retain"`
}

// SentrySettings configures optional error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"` // opt-in only
	DSN     string `yaml:"dsn"`
	Debug   bool   `yaml:"debug"`
}

// NotificationSettings configures push notifications for critical events.
type NotificationSettings struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"` // shoutrrr service URLs
}

// ExportSettings configures result artifact upload.
type ExportSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Debug    bool   `yaml:"debug"`
	Type     string `yaml:"type"` // ftp or sftp
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	KeyFile  string `yaml:"keyfile"` // SSH private key path, used by sftp before password auth
	Path     string `yaml:"path"`    // remote directory for uploaded artifacts
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug behavior globally

	Main struct {
		Name string    `yaml:"name"` // node name used in logs and published results
		Log  LogConfig `yaml:"log"`  // main application log
	} `yaml:"main"`

	Orchestrator OrchestratorSettings `yaml:"orchestrator"`
	Models       ModelsSettings       `yaml:"models"`
	Retry        RetrySettings        `yaml:"retry"`
	Pool         PoolSettings         `yaml:"pool"`
	Audio        AudioSettings        `yaml:"audio"`
	Executor     ExecutorSettings     `yaml:"executor"`
	WebServer    WebServerSettings    `yaml:"webserver"`
	Output       OutputSettings       `yaml:"output"`
	MQTT         MQTTSettings         `yaml:"mqtt"`
	Sentry       SentrySettings       `yaml:"sentry"`
	Notification NotificationSettings `yaml:"notification"`
	Export       ExportSettings       `yaml:"export"`
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         `yaml:"enabled"`     // true to enable this log
	Path        string       `yaml:"path"`        // path to the log file
	Rotation    RotationType `yaml:"rotation"`    // type of log rotation
	MaxSize     int64        `yaml:"maxsize"`     // max size in bytes for RotationSize
	RotationDay string       `yaml:"rotationday"` // day of the week for RotationWeekly
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// MemoryLimitBytes returns the orchestrator budget in bytes.
func (s *Settings) MemoryLimitBytes() int64 {
	return s.Orchestrator.MemoryLimit * 1024 * 1024
}

// ModelCatalog converts the configured catalog into domain model types.
func (s *Settings) ModelCatalog() []model.Type {
	out := make([]model.Type, 0, len(s.Models.Catalog))
	for _, mc := range s.Models.Catalog {
		out = append(out, model.Type{
			ID:                mc.ID,
			Name:              mc.Name,
			MemoryRequirement: mc.Memory * 1024 * 1024,
			Capabilities: model.Capability{
				Transcription: mc.Transcription,
				Synthesis:     mc.Synthesis,
				Streaming:     mc.Streaming,
			},
		})
	}
	return out
}

// ChunkSamples returns the executor chunk length in samples.
func (s *Settings) ChunkSamples() int {
	return int(s.Audio.ChunkSeconds * float64(s.Audio.SampleRate))
}

// RetryDelays returns the backoff shape as durations.
func (s *Settings) RetryDelays() (initial, maxDelay, jitter time.Duration) {
	return time.Duration(s.Retry.InitialDelay) * time.Millisecond,
		time.Duration(s.Retry.MaxDelay) * time.Millisecond,
		time.Duration(s.Retry.Jitter) * time.Millisecond
}

// Load reads the configuration file and defaults into a validated Settings
// value. The first run writes the embedded defaults to the preferred config
// directory.
func Load() (*Settings, error) {
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("initializing configuration: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return settings, nil
}

// initViper points viper at the config search paths and reads the file,
// seeding defaults first so a partial file still yields a complete config.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("resolving config search paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config into dir and loads
// it. The write is atomic so an interrupted first run cannot leave a
// truncated file behind for the next one.
func createDefaultConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, configFileName)
	if err := writeFileAtomic(configPath, defaultConfigBytes()); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}

	slog.Info("created default config file", "path", configPath)
	return viper.ReadInConfig()
}

// defaultConfigBytes returns the embedded config.yaml contents.
func defaultConfigBytes() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded config.yaml unreadable: %v", err))
	}
	return data
}

// writeFileAtomic writes data through a temporary file in the target
// directory, then renames it into place. The file ends up mode 0600, which
// suits a config that may carry broker credentials.
func writeFileAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
