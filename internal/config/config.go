// Package config loads and validates the structured document described in
// spec.md section 6. Every recognized option, provider keys included, is
// read from the YAML document; no Config field is taken from the
// environment.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	pipelineerrors "github.com/fankserver/meetcap/internal/errors"
)

// Config holds every recognized option from spec.md section 6.
type Config struct {
	AudioChunkDuration             float64 `yaml:"audio_chunk_duration" validate:"gt=0"`
	AudioOverlap                   float64 `yaml:"audio_overlap" validate:"gte=0"`
	SampleRate                     int     `yaml:"sample_rate" validate:"required,oneof=8000 16000 32000 48000"`
	Channels                       int     `yaml:"channels" validate:"required,min=1,max=2"`
	TranscriptionConfidenceThreshold float64 `yaml:"transcription_confidence_threshold" validate:"gte=0,lte=1"`
	SpeakerChangeThreshold         float64 `yaml:"speaker_change_threshold" validate:"gte=0,lte=1"`
	EmbeddingBatchSize             int     `yaml:"embedding_batch_size" validate:"gt=0"`
	DatabaseBatchSize              int     `yaml:"database_batch_size" validate:"gt=0"`
	MaxProcessingQueueSize         int     `yaml:"max_processing_queue_size" validate:"gt=0"`
	TranscriptionTimeoutSeconds    float64 `yaml:"transcription_timeout" validate:"gt=0"`
	EmbeddingTimeoutSeconds        float64 `yaml:"embedding_timeout" validate:"gt=0"`
	DatabasePath                   string  `yaml:"database_path"`
	AudioRetentionHours            int     `yaml:"audio_retention_hours" validate:"gte=0"`
	BackupIntervalMinutes          int     `yaml:"backup_interval_minutes" validate:"gte=0"`
	AutoStartRecording             bool    `yaml:"auto_start_recording"`
	SaveRawAudio                   bool    `yaml:"save_raw_audio"`
	SpeakerAnonymization           bool    `yaml:"speaker_anonymization"`

	// TranscriptionProvider/EmbeddingProvider select an entry from the
	// provider registration tables in internal/transcription and
	// internal/vectorization. Unknown ids are a Configuration error at
	// session start, never at first use (design note "Dynamic provider
	// dispatch").
	TranscriptionProvider string `yaml:"transcription_provider" validate:"required"`
	EmbeddingProvider     string `yaml:"embedding_provider" validate:"required"`

	// Provider-specific connection details, read by cmd/meetcap when
	// constructing whichever provider TranscriptionProvider/EmbeddingProvider
	// names. Unused fields for mock providers.
	TranscriptionEndpoint  string `yaml:"transcription_endpoint"`
	TranscriptionAPIKey    string `yaml:"transcription_api_key"`
	TranscriptionModelPath string `yaml:"transcription_model_path"`
	EmbeddingEndpoint      string `yaml:"embedding_endpoint"`
	EmbeddingAPIKey        string `yaml:"embedding_api_key"`
	EmbeddingDimension     int    `yaml:"embedding_dimension" validate:"gt=0"`

	// Storage backend connection (spec.md section 6 "Storage backend"):
	// a Postgres DSN for the transactional row store and schema migrations,
	// plus an OpenSearch cluster for the vector index.
	DatabaseDSN            string   `yaml:"database_dsn"`
	DatabaseMigrationsPath string   `yaml:"database_migrations_path"`
	OpenSearchAddresses    []string `yaml:"opensearch_addresses"`
	OpenSearchUsername     string   `yaml:"opensearch_username"`
	OpenSearchPassword     string   `yaml:"opensearch_password"`
	OpenSearchIndex        string   `yaml:"opensearch_index"`
}

// Default returns the documented defaults from spec.md section 6.
func Default() Config {
	return Config{
		AudioChunkDuration:               3.0,
		AudioOverlap:                     0.5,
		SampleRate:                       16000,
		Channels:                         1,
		TranscriptionConfidenceThreshold: 0.7,
		SpeakerChangeThreshold:           0.8,
		EmbeddingBatchSize:               10,
		DatabaseBatchSize:                50,
		MaxProcessingQueueSize:           100,
		TranscriptionTimeoutSeconds:      30,
		EmbeddingTimeoutSeconds:          10,
		DatabasePath:                     "meetcap.db",
		AudioRetentionHours:              24,
		BackupIntervalMinutes:            60,
		AutoStartRecording:               false,
		SaveRawAudio:                     false,
		SpeakerAnonymization:             false,
		TranscriptionProvider:            "mock",
		EmbeddingProvider:                "mock",
		EmbeddingDimension:               32,
		DatabaseMigrationsPath:           "internal/storage/migrations",
		OpenSearchAddresses:              []string{"http://localhost:9200"},
		OpenSearchIndex:                  "meetcap_segments",
	}
}

var validate = validator.New()

// Validate enforces the invalid-combination rules spec.md names explicitly
// (overlap must be strictly less than duration) plus struct-tag bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return pipelineerrors.Configuration("struct validation failed", err)
	}
	if c.AudioOverlap >= c.AudioChunkDuration {
		return pipelineerrors.Configuration(
			fmt.Sprintf("audio_overlap (%.3f) must be < audio_chunk_duration (%.3f)", c.AudioOverlap, c.AudioChunkDuration),
			nil,
		)
	}
	return nil
}

// Load reads YAML configuration from path. It first calls godotenv, which
// copies a .env file (if present) into the process environment; the
// returned Config does not read those variables, so they do not override
// any field.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return Config{}, pipelineerrors.Configuration("reading config file", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, pipelineerrors.Configuration("parsing config yaml", err)
	}

	return cfg, cfg.Validate()
}

// Marshal serializes a validated config back to YAML. Config round-trip
// (serialize -> parse -> serialize) is the identity on validated configs,
// per spec.md's testable law.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
