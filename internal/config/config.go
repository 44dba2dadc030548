// Package config provides the configuration structure for the conversation-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Storage and provider names.
const (
	StorageBackendNATS = "nats"
	StorageBackendCOS  = "cos"

	TextProviderGemini = "gemini"
	TextProviderOpenAI = "openai"

	SpeechProviderHTTP   = "http"
	SpeechProviderGemini = "gemini"
)

// Defaults applied by ApplyDefaults.
const (
	defaultRequestSubject   = "conversation.requests"
	defaultQueueGroup       = "conversation-workers"
	defaultBucket           = "CONVERSATIONS"
	defaultCacheTTLSeconds  = 7 * 24 * 60 * 60
	defaultKeyPrefix        = "vocab:"
	defaultRedisAddr        = "127.0.0.1:6379"
	defaultGeminiTextModel  = "gemini-2.5-flash"
	defaultOpenAITextModel  = "gpt-4o-mini"
	defaultGeminiKeyEnv     = "GEMINI_API_KEY"
	defaultOpenAIKeyEnv     = "OPENAI_API_KEY"
	defaultTemperature      = 0.7
	defaultMaxTokens        = 512
	defaultTimeoutSeconds   = 60
	defaultVoice            = "cmn-CN-Standard-A"
	defaultGeminiVoice      = "Kore"
	defaultGeminiTTSModel   = "gemini-2.5-flash-preview-tts"
	defaultLanguageCode     = "cmn-CN"
	defaultAudioEncoding    = "MP3"
	defaultGeneratorVersion = "v1"
	defaultRequestTimeout   = 120
)

// Validation errors.
var (
	ErrNATSURLEmpty          = errors.New("nats url cannot be empty")
	ErrUnknownStorageBackend = errors.New("unknown storage backend")
	ErrCOSBucketURLEmpty     = errors.New("cos bucket url cannot be empty")
	ErrPublicBaseURLEmpty    = errors.New("nats storage requires a public base url")
	ErrUnknownTextProvider   = errors.New("unknown text model provider")
	ErrUnknownSpeechProvider = errors.New("unknown speech provider")
	ErrSpeechURLEmpty        = errors.New("speech service url cannot be empty")
	ErrTemperatureRange      = errors.New("temperature must be between 0.0 and 2.0")
	ErrMaxTokensNegative     = errors.New("max tokens must be positive")
	ErrUnsupportedEncoding   = errors.New("unsupported audio encoding")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                   string `toml:"url"`
	RequestSubject        string `toml:"request_subject"`
	QueueGroup            string `toml:"queue_group"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// StorageConfig holds the configuration of the durable artifact store.
type StorageConfig struct {
	Backend       string `toml:"backend"`
	Bucket        string `toml:"bucket"`
	PublicBaseURL string `toml:"public_base_url"`
	COSBucketURL  string `toml:"cos_bucket_url"`
	COSSecretID   string `toml:"cos_secret_id"`
	COSSecretKey  string `toml:"cos_secret_key"`
}

// CacheConfig holds the configuration of the hot cache.
type CacheConfig struct {
	Enabled        bool   `toml:"enabled"`
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	KeyPrefix      string `toml:"key_prefix"`
	TextTTLSeconds int    `toml:"text_ttl_seconds"`
	TTSTTLSeconds  int    `toml:"tts_ttl_seconds"`
	CoalesceMisses bool   `toml:"coalesce_misses"`
}

// TextModelConfig holds the configuration of the generative text model.
type TextModelConfig struct {
	Provider       string   `toml:"provider"`
	Model          string   `toml:"model"`
	BaseURL        string   `toml:"base_url"`
	APIKeyEnv      string   `toml:"api_key_env"`
	Temperature    *float64 `toml:"temperature"`
	MaxTokens      int      `toml:"max_tokens"`
	MaxRetries     int      `toml:"max_retries"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// SpeechConfig holds the configuration of the speech synthesis engine.
type SpeechConfig struct {
	Provider       string   `toml:"provider"`
	URL            string   `toml:"url"`
	Model          string   `toml:"model"`
	APIKeyEnv      string   `toml:"api_key_env"`
	Voice          string   `toml:"voice"`
	AllowedVoices  []string `toml:"allowed_voices"`
	LanguageCode   string   `toml:"language_code"`
	AudioEncoding  string   `toml:"audio_encoding"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// GeneratorConfig holds the configuration of the conversation generator.
type GeneratorConfig struct {
	Version         string `toml:"version"`
	LockTurnPatches bool   `toml:"lock_turn_patches"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// MetricsConfig holds the configuration of the Prometheus listener.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Storage   StorageConfig   `toml:"storage"`
	Cache     CacheConfig     `toml:"cache"`
	TextModel TextModelConfig `toml:"text_model"`
	Speech    SpeechConfig    `toml:"speech"`
	Generator GeneratorConfig `toml:"generator"`
	Paths     PathsConfig     `toml:"paths"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// Load loads the configuration for the conversation-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset optional field with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.RequestSubject, defaultRequestSubject)
	setDefault(&c.NATS.QueueGroup, defaultQueueGroup)
	setDefaultInt(&c.NATS.RequestTimeoutSeconds, defaultRequestTimeout)

	setDefault(&c.Storage.Backend, StorageBackendNATS)
	setDefault(&c.Storage.Bucket, defaultBucket)

	setDefault(&c.Cache.RedisAddr, defaultRedisAddr)
	setDefault(&c.Cache.KeyPrefix, defaultKeyPrefix)
	setDefaultInt(&c.Cache.TextTTLSeconds, defaultCacheTTLSeconds)
	setDefaultInt(&c.Cache.TTSTTLSeconds, defaultCacheTTLSeconds)

	setDefault(&c.TextModel.Provider, TextProviderGemini)

	switch c.TextModel.Provider {
	case TextProviderOpenAI:
		setDefault(&c.TextModel.Model, defaultOpenAITextModel)
		setDefault(&c.TextModel.APIKeyEnv, defaultOpenAIKeyEnv)
	default:
		setDefault(&c.TextModel.Model, defaultGeminiTextModel)
		setDefault(&c.TextModel.APIKeyEnv, defaultGeminiKeyEnv)
	}

	// An explicit 0.0 is kept; only an absent temperature gets the default.
	if c.TextModel.Temperature == nil {
		temperature := defaultTemperature
		c.TextModel.Temperature = &temperature
	}

	setDefaultInt(&c.TextModel.MaxTokens, defaultMaxTokens)
	setDefaultInt(&c.TextModel.TimeoutSeconds, defaultTimeoutSeconds)

	setDefault(&c.Speech.Provider, SpeechProviderHTTP)

	if c.Speech.Provider == SpeechProviderGemini {
		setDefault(&c.Speech.Model, defaultGeminiTTSModel)
		setDefault(&c.Speech.APIKeyEnv, defaultGeminiKeyEnv)
		setDefault(&c.Speech.Voice, defaultGeminiVoice)
		setDefault(&c.Speech.AudioEncoding, "LINEAR16")
	}

	setDefault(&c.Speech.Voice, defaultVoice)
	setDefault(&c.Speech.LanguageCode, defaultLanguageCode)
	setDefault(&c.Speech.AudioEncoding, defaultAudioEncoding)
	setDefaultInt(&c.Speech.TimeoutSeconds, defaultTimeoutSeconds)

	setDefault(&c.Generator.Version, defaultGeneratorVersion)
	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
}

// Validate ensures that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	switch c.Storage.Backend {
	case StorageBackendNATS:
		if c.Storage.PublicBaseURL == "" {
			return ErrPublicBaseURLEmpty
		}
	case StorageBackendCOS:
		if c.Storage.COSBucketURL == "" {
			return ErrCOSBucketURLEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStorageBackend, c.Storage.Backend)
	}

	if c.TextModel.Provider != TextProviderGemini && c.TextModel.Provider != TextProviderOpenAI {
		return fmt.Errorf("%w: '%s'", ErrUnknownTextProvider, c.TextModel.Provider)
	}

	if temperature := c.TextTemperature(); temperature < 0.0 || temperature > 2.0 {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, temperature)
	}

	if c.TextModel.MaxTokens <= 0 {
		return fmt.Errorf("%w: got %d", ErrMaxTokensNegative, c.TextModel.MaxTokens)
	}

	switch c.Speech.Provider {
	case SpeechProviderHTTP:
		if c.Speech.URL == "" {
			return ErrSpeechURLEmpty
		}
	case SpeechProviderGemini:
		// Gemini returns raw PCM which is always persisted as WAV.
		if c.Speech.AudioEncoding != "LINEAR16" {
			return fmt.Errorf("%w: gemini speech requires LINEAR16, got '%s'", ErrUnsupportedEncoding, c.Speech.AudioEncoding)
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownSpeechProvider, c.Speech.Provider)
	}

	switch c.Speech.AudioEncoding {
	case "MP3", "LINEAR16", "OGG_OPUS":
	default:
		return fmt.Errorf("%w: '%s'", ErrUnsupportedEncoding, c.Speech.AudioEncoding)
	}

	return nil
}

// TextTemperature returns the configured sampling temperature, or the default
// when none was set.
func (c *Config) TextTemperature() float64 {
	if c.TextModel.Temperature == nil {
		return defaultTemperature
	}

	return *c.TextModel.Temperature
}

// RequestTimeout returns the per-request handling timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.NATS.RequestTimeoutSeconds) * time.Second
}

// TextTimeout returns the text model transport timeout.
func (c *Config) TextTimeout() time.Duration {
	return time.Duration(c.TextModel.TimeoutSeconds) * time.Second
}

// SpeechTimeout returns the speech engine transport timeout.
func (c *Config) SpeechTimeout() time.Duration {
	return time.Duration(c.Speech.TimeoutSeconds) * time.Second
}

// TextTTL returns the hot-cache TTL of conversation text.
func (c *Config) TextTTL() time.Duration {
	return time.Duration(c.Cache.TextTTLSeconds) * time.Second
}

// TTSTTL returns the hot-cache TTL of synthesized audio.
func (c *Config) TTSTTL() time.Duration {
	return time.Duration(c.Cache.TTSTTLSeconds) * time.Second
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDefaultInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
