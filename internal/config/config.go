package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the fact-check gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Used for logging the WebSocket endpoint; capture clients connect to wss://<this-host>/streams/live.
	// Optional; if unset, logs ws://localhost:PORT/streams/live.
	GatewayURL string `envconfig:"GATEWAY_URL" default:""`

	// Transcription service (duplex websocket) configuration
	TranscribeAPIKey   string `envconfig:"TRANSCRIBE_API_KEY" required:"true"`
	TranscribeURL      string `envconfig:"TRANSCRIBE_URL" default:"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"`
	TranscribeModel    string `envconfig:"TRANSCRIBE_MODEL" default:"models/gemini-2.0-flash-exp"`
	TranscribeLanguage string `envconfig:"TRANSCRIBE_LANGUAGE" default:"pt-BR"` // Language code (pt-BR, en, es, etc.)

	// Verification service configuration
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	VerifyModel   string `envconfig:"VERIFY_MODEL" default:"gpt-4o-mini"`
	VerifyTimeout int    `envconfig:"VERIFY_TIMEOUT" default:"45"` // seconds

	// Audio processing configuration
	TargetSampleRate int     `envconfig:"TARGET_SAMPLE_RATE" default:"16000"` // PCM output rate in Hz
	FrameSize        int     `envconfig:"FRAME_SIZE" default:"4096"`          // Samples per outbound frame (~256ms at 16kHz)
	CaptureGain      float64 `envconfig:"CAPTURE_GAIN" default:"1.4"`         // Pre-scale gain for quiet capture devices
	LevelThreshold   float64 `envconfig:"LEVEL_THRESHOLD" default:"0.015"`    // RMS threshold for speech level reporting
	LevelQuietFrames int     `envconfig:"LEVEL_QUIET_FRAMES" default:"8"`     // Quiet frames before speech is considered ended

	// Transcript segmentation configuration.
	// These are tunable heuristics, not protocol constants.
	MaxPartialLen   int `envconfig:"MAX_PARTIAL_LEN" default:"80"` // Finalize when the buffer exceeds this many characters
	MinSegmentLen   int `envconfig:"MIN_SEGMENT_LEN" default:"5"`  // Segments shorter than this are not verified
	ContextSegments int `envconfig:"CONTEXT_SEGMENTS" default:"3"` // Prior segments sent as verification context

	// Resilience configuration
	ReconnectCloseDelay        int `envconfig:"RECONNECT_CLOSE_DELAY" default:"1000"`       // Delay after a clean close, milliseconds
	ReconnectErrorDelay        int `envconfig:"RECONNECT_ERROR_DELAY" default:"3000"`       // Delay after a transport error, milliseconds
	ReconnectMaxBackoff        int `envconfig:"RECONNECT_MAX_BACKOFF" default:"30000"`      // Backoff ceiling, milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Audit log collaborator (best-effort session/analysis log)
	AuditLogURL     string `envconfig:"AUDIT_LOG_URL" default:""`      // Empty disables audit logging
	AuditLogTimeout int    `envconfig:"AUDIT_LOG_TIMEOUT" default:"2"` // seconds

	// Kafka event publishing (optional)
	KafkaEnabled          bool   `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers          string `envconfig:"KAFKA_BROKERS" default:""` // Comma-separated broker list
	KafkaTopicTranscripts string `envconfig:"KAFKA_TOPIC_TRANSCRIPTS" default:"factgw.transcripts.final"`
	KafkaTopicAnalyses    string `envconfig:"KAFKA_TOPIC_ANALYSES" default:"factgw.analyses.resolved"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants beyond what envconfig enforces
func (c *Config) Validate() error {
	if c.TranscribeAPIKey == "" {
		return fmt.Errorf("TRANSCRIBE_API_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.TargetSampleRate <= 0 {
		return fmt.Errorf("TARGET_SAMPLE_RATE must be positive, got %d", c.TargetSampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("FRAME_SIZE must be positive, got %d", c.FrameSize)
	}
	if c.MaxPartialLen <= 0 {
		return fmt.Errorf("MAX_PARTIAL_LEN must be positive, got %d", c.MaxPartialLen)
	}
	if c.KafkaEnabled && c.KafkaBrokers == "" {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	return nil
}

// KafkaBrokerList returns the configured brokers as a slice
func (c *Config) KafkaBrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
