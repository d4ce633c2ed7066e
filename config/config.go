package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDoubaoURL   = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"
	DefaultDoubaoModel = "doubao-seed-1-6-flash-250828"
	DefaultLanguage    = "zh-CN"
)

type Config struct {
	Doubao   DoubaoConfig   `yaml:"doubao"`
	Speech   SpeechConfig   `yaml:"speech"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
	Pushover PushoverConfig `yaml:"pushover"`
	Log      LogConfig      `yaml:"log"`
}

// DoubaoConfig points at an OpenAI-compatible chat completions endpoint. An
// empty APIKey puts the analyzer in fallback-only mode.
type DoubaoConfig struct {
	APIKey  string        `yaml:"api_key"`
	URL     string        `yaml:"url" validate:"required,url"`
	Model   string        `yaml:"model" validate:"required"`
	Timeout time.Duration `yaml:"timeout"`
}

type SpeechConfig struct {
	Provider       string `yaml:"provider" validate:"oneof=deepgram relay none"`
	Language       string `yaml:"language" validate:"required"`
	DeepgramAPIKey string `yaml:"deepgram_api_key"`
	DeepgramURL    string `yaml:"deepgram_url" validate:"required,url"`
	DeepgramModel  string `yaml:"deepgram_model"`
	RelayAddr      string `yaml:"relay_addr" validate:"required_if=Provider relay"`
	RelayToken     string `yaml:"relay_token"`
	RelayRateLimit int    `yaml:"relay_rate_limit" validate:"gte=0"`
}

type AudioConfig struct {
	Source     string `yaml:"source" validate:"oneof=microphone file"`
	File       string `yaml:"file" validate:"required_if=Source file"`
	SampleRate int    `yaml:"sample_rate" validate:"gte=8000,lte=48000"`
}

type SessionConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

type PushoverConfig struct {
	Token   string `yaml:"token" validate:"required_if=Enabled true"`
	UserKey string `yaml:"user_key" validate:"required_if=Enabled true"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// env lists the variables that take precedence over the config file.
type env struct {
	DoubaoAPIKey    string `envconfig:"DOUBAO_API_KEY"`
	DoubaoAPIURL    string `envconfig:"DOUBAO_API_URL"`
	DoubaoModelName string `envconfig:"DOUBAO_MODEL_NAME"`
	DeepgramAPIKey  string `envconfig:"DEEPGRAM_API_KEY"`
	SpeechProvider  string `envconfig:"MEDIATOR_SPEECH_PROVIDER"`
	SpeechLanguage  string `envconfig:"MEDIATOR_SPEECH_LANGUAGE"`
	RelayAddr       string `envconfig:"MEDIATOR_RELAY_ADDR"`
	RelayToken      string `envconfig:"MEDIATOR_RELAY_TOKEN"`
	AudioSource     string `envconfig:"MEDIATOR_AUDIO_SOURCE"`
	AudioFile       string `envconfig:"MEDIATOR_AUDIO_FILE"`
	LogLevel        string `envconfig:"MEDIATOR_LOG_LEVEL"`
	LogFormat       string `envconfig:"MEDIATOR_LOG_FORMAT"`
}

// Load reads the YAML file at path, applies environment overrides and defaults,
// and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	override(&c.Doubao.APIKey, e.DoubaoAPIKey)
	override(&c.Doubao.URL, e.DoubaoAPIURL)
	override(&c.Doubao.Model, e.DoubaoModelName)
	override(&c.Speech.DeepgramAPIKey, e.DeepgramAPIKey)
	override(&c.Speech.Provider, e.SpeechProvider)
	override(&c.Speech.Language, e.SpeechLanguage)
	override(&c.Speech.RelayAddr, e.RelayAddr)
	override(&c.Speech.RelayToken, e.RelayToken)
	override(&c.Audio.Source, e.AudioSource)
	override(&c.Audio.File, e.AudioFile)
	override(&c.Log.Level, e.LogLevel)
	override(&c.Log.Format, e.LogFormat)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Doubao.URL == "" {
		c.Doubao.URL = DefaultDoubaoURL
	}
	if c.Doubao.Model == "" {
		c.Doubao.Model = DefaultDoubaoModel
	}
	if c.Doubao.Timeout <= 0 {
		c.Doubao.Timeout = 60 * time.Second
	}
	if c.Speech.Provider == "" {
		if c.Speech.DeepgramAPIKey != "" {
			c.Speech.Provider = "deepgram"
		} else {
			c.Speech.Provider = "none"
		}
	}
	if c.Speech.Language == "" {
		c.Speech.Language = DefaultLanguage
	}
	if c.Speech.DeepgramURL == "" {
		c.Speech.DeepgramURL = "wss://api.deepgram.com/v1/listen"
	}
	if c.Speech.DeepgramModel == "" {
		c.Speech.DeepgramModel = "nova-3"
	}
	if c.Speech.RelayAddr == "" {
		c.Speech.RelayAddr = ":8080"
	}
	if c.Speech.RelayRateLimit == 0 {
		c.Speech.RelayRateLimit = 20
	}
	if c.Audio.Source == "" {
		c.Audio.Source = "microphone"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Session.TickInterval <= 0 {
		c.Session.TickInterval = time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}
