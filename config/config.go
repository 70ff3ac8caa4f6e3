package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Voice       VoiceConfig       `yaml:"voice"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Memory      MemoryConfig      `yaml:"memory"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Audio       AudioConfig       `yaml:"audio"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Pushover    PushoverConfig    `yaml:"pushover"`
	Log         LogConfig         `yaml:"log"`
}

type VoiceConfig struct {
	WakePhrases    []string `yaml:"wake_phrases"`
	Greeting       string   `yaml:"greeting"`
	Nudge          string   `yaml:"nudge"`
	NudgeAfter     string   `yaml:"continuous_nudge_after"`
	StopAfter      string   `yaml:"continuous_stop_after"`
	ListenTimeout  string   `yaml:"listen_timeout"`
	RestartBackoff string   `yaml:"restart_backoff"`
	Voice          string   `yaml:"voice"`
	Continuous     *bool    `yaml:"continuous"`
}

type InterpreterConfig struct {
	Provider          string `yaml:"provider"`
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	BaseURL           string `yaml:"base_url"`
	Timeout           string `yaml:"timeout"`
	Attempts          int    `yaml:"attempts"`
	HistoryTurns      int    `yaml:"history_turns"`
	MaxUtteranceChars int    `yaml:"max_utterance_chars"`
}

type MemoryConfig struct {
	Capacity   int    `yaml:"capacity"`
	Dir        string `yaml:"dir"`
	PendingTTL string `yaml:"pending_ttl"`
}

type SuggestionsConfig struct {
	Interval string `yaml:"interval"`
}

type BridgeConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
	RateLimit int    `yaml:"rate_limit"`
}

type AudioConfig struct {
	Source     string `yaml:"source"`
	SampleRate int    `yaml:"sample_rate"`
}

type OpenAIConfig struct {
	APIKey   string `yaml:"api_key"`
	Language string `yaml:"language"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

type PushoverConfig struct {
	Token    string `yaml:"token"`
	UserKey  string `yaml:"user_key"`
	Device   string `yaml:"device"`
	Priority int    `yaml:"priority"`
	Enabled  bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads .env from the working directory when present, then the YAML file with
// ${VAR} references expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if len(c.Voice.WakePhrases) == 0 {
		c.Voice.WakePhrases = []string{"hey tomme", "ok tomme"}
	}
	if c.Voice.Greeting == "" {
		c.Voice.Greeting = "Hi! What can I do for you?"
	}
	if c.Voice.Nudge == "" {
		c.Voice.Nudge = "Are you still there?"
	}
	if c.Voice.NudgeAfter == "" {
		c.Voice.NudgeAfter = "45s"
	}
	if c.Voice.StopAfter == "" {
		c.Voice.StopAfter = "20s"
	}
	if c.Voice.ListenTimeout == "" {
		c.Voice.ListenTimeout = "30s"
	}
	if c.Voice.RestartBackoff == "" {
		c.Voice.RestartBackoff = "300ms"
	}
	if c.Voice.Continuous == nil {
		on := true
		c.Voice.Continuous = &on
	}
	if c.Interpreter.Provider == "" {
		c.Interpreter.Provider = "anthropic"
	}
	if c.Interpreter.Model == "" {
		switch c.Interpreter.Provider {
		case "gemini":
			c.Interpreter.Model = "gemini-2.0-flash"
		default:
			c.Interpreter.Model = "claude-sonnet-4-20250514"
		}
	}
	if c.Interpreter.Timeout == "" {
		c.Interpreter.Timeout = "6s"
	}
	if c.Interpreter.Attempts == 0 {
		c.Interpreter.Attempts = 1
	}
	if c.Interpreter.HistoryTurns == 0 {
		c.Interpreter.HistoryTurns = 6
	}
	if c.Interpreter.MaxUtteranceChars == 0 {
		c.Interpreter.MaxUtteranceChars = 500
	}
	if c.Memory.Capacity == 0 {
		c.Memory.Capacity = 50
	}
	if c.Memory.Dir == "" {
		c.Memory.Dir = "./data"
	}
	if c.Memory.PendingTTL == "" {
		c.Memory.PendingTTL = "30s"
	}
	if c.Suggestions.Interval == "" {
		c.Suggestions.Interval = "60s"
	}
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = ":8080"
	}
	if c.Bridge.RateLimit == 0 {
		c.Bridge.RateLimit = 60
	}
	if c.Audio.Source == "" {
		c.Audio.Source = "bridge"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.OpenAI.Language == "" {
		c.OpenAI.Language = "en"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Duration parses a duration field, logging and falling back to def when the value
// is invalid or not positive.
func Duration(logger *slog.Logger, field, value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration, using default", "field", field, "value", value, "default", def)
		return def
	}
	return d
}
