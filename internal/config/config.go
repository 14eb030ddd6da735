// Package config loads MeetingScribe's runtime configuration from defaults,
// an optional YAML file, and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime tunable for the streaming/alignment/storage
// pipeline plus the ambient transport and storage settings it needs.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataRoot   string `mapstructure:"data_root"`
	DBDSN      string `mapstructure:"db_dsn"`
	LogLevel   string `mapstructure:"log_level"`

	SampleRateHz int `mapstructure:"sample_rate_hz"`

	WindowSec        float64 `mapstructure:"window_sec"`
	OverlapSec       float64 `mapstructure:"overlap_sec"`
	MaxWindowSec     float64 `mapstructure:"max_window_sec"`
	SilenceCommitSec float64 `mapstructure:"silence_commit_sec"`

	ChunkDurationSec float64 `mapstructure:"chunk_duration_sec"`

	MaxAudioQueue       int     `mapstructure:"max_audio_queue"`
	HeartbeatTimeoutSec float64 `mapstructure:"heartbeat_timeout_sec"`
	SessionLingerSec    float64 `mapstructure:"session_linger_sec"`
	AsrWorkerPool       int     `mapstructure:"asr_worker_pool"`

	AlignmentOverlapThreshold float64 `mapstructure:"alignment_overlap_threshold"`
	AlignmentDensityThreshold float64 `mapstructure:"alignment_density_threshold"`
	AutoPromoteAvgConf        float64 `mapstructure:"auto_promote_avg_conf"`

	StreamingAsrTimeoutSec float64 `mapstructure:"streaming_asr_timeout_sec"`
	AccurateAsrTimeoutSec  float64 `mapstructure:"accurate_asr_timeout_sec"`
	DiarizingAsrTimeoutSec float64 `mapstructure:"diarizing_asr_timeout_sec"`

	StreamingAsrURL   string `mapstructure:"streaming_asr_url"`
	StreamingAsrKey   string `mapstructure:"streaming_asr_key"`
	StreamingAsrModel string `mapstructure:"streaming_asr_model"`

	AccurateAsrURL string `mapstructure:"accurate_asr_url"`
	AccurateAsrKey string `mapstructure:"accurate_asr_key"`

	DiarizingAsrURL string `mapstructure:"diarizing_asr_url"`
	DiarizingAsrKey string `mapstructure:"diarizing_asr_key"`

	// Only consulted when built with the "sherpa" tag; empty paths fall
	// back to the HTTP-based DiarizingASR.
	SherpaSegmentationModelPath string `mapstructure:"sherpa_segmentation_model_path"`
	SherpaEmbeddingModelPath    string `mapstructure:"sherpa_embedding_model_path"`

	// Download URLs are optional; when a model path above is missing and
	// its URL is set, main fetches it once at startup before the silero
	// or sherpa tier is constructed.
	SherpaSegmentationModelURL string `mapstructure:"sherpa_segmentation_model_url"`
	SherpaEmbeddingModelURL    string `mapstructure:"sherpa_embedding_model_url"`

	// Silero's path and runtime library path are read directly from
	// MEETINGSCRIBE_SILERO_MODEL_PATH / MEETINGSCRIBE_ONNXRUNTIME_LIB_PATH
	// by the "silero" build tag itself (internal/vad/ml.go); mirrored here
	// only so main can bootstrap the model file before vad.New runs.
	SileroModelPath string `mapstructure:"silero_model_path"`
	SileroModelURL  string `mapstructure:"silero_model_url"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Duration accessors; the config struct stores seconds as float64 so each
// field maps directly onto a single YAML/env key.
func (c *Config) WindowDuration() time.Duration       { return toDuration(c.WindowSec) }
func (c *Config) OverlapDuration() time.Duration      { return toDuration(c.OverlapSec) }
func (c *Config) MaxWindowDuration() time.Duration    { return toDuration(c.MaxWindowSec) }
func (c *Config) SilenceCommitDuration() time.Duration { return toDuration(c.SilenceCommitSec) }
func (c *Config) ChunkDuration() time.Duration        { return toDuration(c.ChunkDurationSec) }
func (c *Config) HeartbeatTimeout() time.Duration     { return toDuration(c.HeartbeatTimeoutSec) }
func (c *Config) SessionLinger() time.Duration        { return toDuration(c.SessionLingerSec) }
func (c *Config) StreamingAsrTimeout() time.Duration  { return toDuration(c.StreamingAsrTimeoutSec) }
func (c *Config) AccurateAsrTimeout() time.Duration   { return toDuration(c.AccurateAsrTimeoutSec) }
func (c *Config) DiarizingAsrTimeout() time.Duration  { return toDuration(c.DiarizingAsrTimeoutSec) }

func toDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// Load reads a .env file if present (development convenience), then builds
// a viper instance seeded with defaults, an optional config file, and
// MEETINGSCRIBE_-prefixed environment overrides.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("meetingscribe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("data_root", "./data")
	v.SetDefault("db_dsn", "./data/meetingscribe.db")
	v.SetDefault("log_level", "info")

	v.SetDefault("sample_rate_hz", 16000)

	v.SetDefault("window_sec", 12.0)
	v.SetDefault("overlap_sec", 1.5)
	v.SetDefault("max_window_sec", 15.0)
	v.SetDefault("silence_commit_sec", 1.2)

	v.SetDefault("chunk_duration_sec", 30.0)

	v.SetDefault("max_audio_queue", 10)
	v.SetDefault("heartbeat_timeout_sec", 15.0)
	v.SetDefault("session_linger_sec", 120.0)
	v.SetDefault("asr_worker_pool", 2)

	v.SetDefault("alignment_overlap_threshold", 0.6)
	v.SetDefault("alignment_density_threshold", 0.7)
	v.SetDefault("auto_promote_avg_conf", 0.75)

	v.SetDefault("streaming_asr_timeout_sec", 8.0)
	v.SetDefault("accurate_asr_timeout_sec", 180.0)
	v.SetDefault("diarizing_asr_timeout_sec", 180.0)

	v.SetDefault("streaming_asr_url", "http://localhost:8090/v1/streaming")
	v.SetDefault("streaming_asr_model", "default")
	v.SetDefault("accurate_asr_url", "http://localhost:8090/v1/transcribe")
	v.SetDefault("diarizing_asr_url", "http://localhost:8090/v1/diarize")

	v.SetDefault("metrics_addr", ":9090")

	v.SetDefault("sherpa_segmentation_model_url", "")
	v.SetDefault("sherpa_embedding_model_url", "")
	v.SetDefault("silero_model_path", "")
	v.SetDefault("silero_model_url", "")
}
