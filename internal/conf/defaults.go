package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig sets the default values for the configuration. Every key
// read anywhere in the application has a default here so a missing config
// file still produces a runnable service.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "AudioHub")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/audiohub.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.rotationday", "Sunday")

	// Orchestrator
	viper.SetDefault("orchestrator.memorylimit", 6144)
	viper.SetDefault("orchestrator.maxattempts", 3)

	// Model catalog
	viper.SetDefault("models.catalog", []map[string]any{
		{
			"id":            "gama-7b",
			"name":          "GAMA General Audio 7B",
			"memory":        5500,
			"transcription": true,
			"synthesis":     true,
			"streaming":     false,
		},
		{
			"id":            "wav2vec2-base",
			"name":          "Wav2Vec2 Base 960h",
			"memory":        360,
			"transcription": true,
			"synthesis":     false,
			"streaming":     true,
		},
		{
			"id":            "fastspeech2",
			"name":          "FastSpeech2 TTS",
			"memory":        512,
			"transcription": false,
			"synthesis":     true,
			"streaming":     false,
		},
	})
	viper.SetDefault("models.default", "wav2vec2-base")
	viper.SetDefault("models.fallback", "wav2vec2-base")

	// Retry backoff
	viper.SetDefault("retry.initialdelay", 1000)
	viper.SetDefault("retry.maxdelay", 30000)
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.jitter", 1000)

	// Resource pool
	viper.SetDefault("pool.memorycapacity", 8192)
	viper.SetDefault("pool.cpucapacity", 0)
	viper.SetDefault("pool.storagecapacity", 10240)
	viper.SetDefault("pool.lowwatermark", 0.7)
	viper.SetDefault("pool.highwatermark", 0.9)
	viper.SetDefault("pool.failureratethreshold", 0.5)
	viper.SetDefault("pool.monitorinterval", 30)
	viper.SetDefault("pool.hysteresispercent", 5.0)
	viper.SetDefault("pool.buffersize", 65536)

	// Audio ingest
	viper.SetDefault("audio.samplerate", 16000)
	viper.SetDefault("audio.chunkseconds", 3.0)
	viper.SetDefault("audio.overlapseconds", 0.0)
	viper.SetDefault("audio.streambuffer", 512)

	// Executor
	viper.SetDefault("executor.type", "local")
	viper.SetDefault("executor.http.baseurl", "http://localhost:8000")
	viper.SetDefault("executor.http.timeout", 30)
	viper.SetDefault("executor.http.ratelimit", 2.0)
	viper.SetDefault("executor.http.burst", 2)
	viper.SetDefault("executor.http.cachettl", 30)
	viper.SetDefault("executor.tflite.modelpath", "")
	viper.SetDefault("executor.tflite.threads", 0)
	viper.SetDefault("executor.tflite.usexnnpack", true)

	// Web server
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.authtoken", "")
	viper.SetDefault("webserver.ratelimit", 20.0)
	viper.SetDefault("webserver.rateburst", 40)
	viper.SetDefault("webserver.cachettl", 5)
	viper.SetDefault("webserver.log.enabled", true)
	viper.SetDefault("webserver.log.path", "logs/webserver.log")
	viper.SetDefault("webserver.log.rotation", RotationDaily)
	viper.SetDefault("webserver.log.maxsize", 1048576)
	viper.SetDefault("webserver.log.rotationday", "Sunday")

	// Datastore
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "audiohub.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "audiohub")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "audiohub")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	// MQTT
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "audiohub/results")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)

	// Telemetry, disabled unless explicitly opted in
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.debug", false)

	// Notifications
	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})

	// Export
	viper.SetDefault("export.enabled", false)
	viper.SetDefault("export.debug", false)
	viper.SetDefault("export.type", "sftp")
	viper.SetDefault("export.host", "")
	viper.SetDefault("export.port", "22")
	viper.SetDefault("export.username", "")
	viper.SetDefault("export.password", "")
	viper.SetDefault("export.keyfile", "")
	viper.SetDefault("export.path", "exports/")
}
