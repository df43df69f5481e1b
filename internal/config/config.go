package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultInstructions = `You are a helpful voice assistant with access to a private document collection.
When the user asks about anything the documents might cover, call the search_documents tool first
and answer from what it returns. Keep spoken answers short and conversational.`

// Config contains all runtime settings for the document voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	SessionRetention time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel string
	LogFile  string
	LogJSON  bool

	OTelEnabled  bool
	OTelEndpoint string

	OpenAIAPIKey        string
	CredentialSSMParam  string
	CredentialCacheTTL  time.Duration
	RealtimeURL         string
	RealtimeModel       string
	RealtimeProfilePath string

	DocumentsDir string
	DatabaseURL  string

	Profile SessionProfile
}

// SessionProfile is the realtime session configuration sent upstream when a
// session opens. It can be overridden by a YAML file.
type SessionProfile struct {
	Instructions       string  `yaml:"instructions"`
	Voice              string  `yaml:"voice"`
	InputAudioFormat   string  `yaml:"input_audio_format"`
	OutputAudioFormat  string  `yaml:"output_audio_format"`
	TranscriptionModel string  `yaml:"transcription_model"`
	VADType            string  `yaml:"vad_type"`
	VADThreshold       float64 `yaml:"vad_threshold"`
	VADPrefixPaddingMS int     `yaml:"vad_prefix_padding_ms"`
	VADSilenceMS       int     `yaml:"vad_silence_duration_ms"`
	ToolChoice         string  `yaml:"tool_choice"`
}

// DefaultProfile mirrors what the upstream expects for PCM16 speech at 24kHz.
func DefaultProfile() SessionProfile {
	return SessionProfile{
		Instructions:       defaultInstructions,
		Voice:              "alloy",
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		TranscriptionModel: "whisper-1",
		VADType:            "server_vad",
		VADThreshold:       0.5,
		VADPrefixPaddingMS: 300,
		VADSilenceMS:       500,
		ToolChoice:         "auto",
	}
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "docvoice"),
		LogLevel:            envOrDefault("APP_LOG_LEVEL", "info"),
		LogFile:             stringsTrimSpace("APP_LOG_FILE"),
		OTelEndpoint:        envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		CredentialSSMParam:  stringsTrimSpace("CREDENTIAL_SSM_PARAMETER"),
		RealtimeURL:         envOrDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:       envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		RealtimeProfilePath: stringsTrimSpace("APP_PROFILE_FILE"),
		DocumentsDir:        envOrDefault("DOCUMENTS_DIR", "documents"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:     15 * time.Second,
		SessionRetention:    10 * time.Minute,
		CredentialCacheTTL:  5 * time.Minute,
		Profile:             DefaultProfile(),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("APP_SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.CredentialCacheTTL, err = durationFromEnv("CREDENTIAL_CACHE_TTL", cfg.CredentialCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogJSON, err = boolFromEnv("APP_LOG_JSON", cfg.LogJSON)
	if err != nil {
		return Config{}, err
	}
	cfg.OTelEnabled, err = boolFromEnv("OTEL_ENABLED", cfg.OTelEnabled)
	if err != nil {
		return Config{}, err
	}

	if cfg.RealtimeProfilePath != "" {
		cfg.Profile, err = LoadProfile(cfg.RealtimeProfilePath, cfg.Profile)
		if err != nil {
			return Config{}, err
		}
	}
	if v := stringsTrimSpace("REALTIME_VOICE"); v != "" {
		cfg.Profile.Voice = v
	}
	cfg.Profile.VADThreshold, err = floatFromEnv("REALTIME_VAD_THRESHOLD", cfg.Profile.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.Profile.VADPrefixPaddingMS, err = intFromEnv("REALTIME_VAD_PREFIX_PADDING_MS", cfg.Profile.VADPrefixPaddingMS)
	if err != nil {
		return Config{}, err
	}
	cfg.Profile.VADSilenceMS, err = intFromEnv("REALTIME_VAD_SILENCE_MS", cfg.Profile.VADSilenceMS)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Profile.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.SessionRetention < time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_RETENTION must be at least 1s")
	}
	if cfg.CredentialCacheTTL < 0 {
		return Config{}, fmt.Errorf("CREDENTIAL_CACHE_TTL must be >= 0")
	}

	return cfg, nil
}

// LoadProfile overlays the YAML file at path onto base. Fields absent from
// the file keep their base values.
func LoadProfile(path string, base SessionProfile) (SessionProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionProfile{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return SessionProfile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return out, nil
}

func (p SessionProfile) Validate() error {
	if strings.TrimSpace(p.Instructions) == "" {
		return fmt.Errorf("session profile: instructions must not be empty")
	}
	if strings.TrimSpace(p.Voice) == "" {
		return fmt.Errorf("session profile: voice must not be empty")
	}
	if p.VADThreshold < 0 || p.VADThreshold > 1 {
		return fmt.Errorf("session profile: vad_threshold must be in [0,1]")
	}
	if p.VADPrefixPaddingMS < 0 || p.VADSilenceMS < 0 {
		return fmt.Errorf("session profile: vad durations must be >= 0")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
