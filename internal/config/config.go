// Package config assembles the daemon configuration from defaults, an optional
// YAML file, a .env file, the environment and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// STT engines.
const (
	EngineWhisper = "whisper"
	EngineOpenAI  = "openai"
)

// LogLevels maps accepted level names to slog levels.
var LogLevels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

type Config struct {
	LogLevel string `yaml:"log_level"`

	Plugins  PluginsConfig  `yaml:"plugins"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Audio    AudioConfig    `yaml:"audio"`
	STT      STTConfig      `yaml:"stt"`
	TTS      TTSConfig      `yaml:"tts"`
	Control  ControlConfig  `yaml:"control"`
	Bus      BusConfig      `yaml:"bus"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// OpenAIAPIKey is read from OPENAI_API_KEY only.
	OpenAIAPIKey string `yaml:"-"`
}

type PluginsConfig struct {
	Dir             string        `yaml:"dir"`
	StrictNames     bool          `yaml:"strict_names"`
	InstallDeps     bool          `yaml:"install_deps"`
	AllowedPackages []string      `yaml:"allowed_packages"`
	ExecTimeout     time.Duration `yaml:"exec_timeout"`
	InstallTimeout  time.Duration `yaml:"install_timeout"`
}

type PipelineConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxReadFailures int           `yaml:"max_read_failures"`
}

type AudioConfig struct {
	// Input replays a wav, mp3 or ogg file instead of capturing the microphone.
	Input         string  `yaml:"input"`
	Chime         string  `yaml:"chime"`
	Duck          bool    `yaml:"duck"`
	DuckFactor    float64 `yaml:"duck_factor"`
	DuckMinVolume int     `yaml:"duck_min_volume"`
}

type STTConfig struct {
	Engine       string `yaml:"engine"`
	WhisperModel string `yaml:"whisper_model"`
	Language     string `yaml:"language"`
	Threads      int    `yaml:"threads"`
	OpenAIModel  string `yaml:"openai_model"`
	// Proxy is a SOCKS5 address used for cloud requests. Empty dials directly.
	Proxy string `yaml:"proxy"`
}

type TTSConfig struct {
	Voice string `yaml:"voice"`
}

type ControlConfig struct {
	Socket string `yaml:"socket"`
}

type BusConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Plugins: PluginsConfig{
			Dir:            "plugins",
			InstallDeps:    true,
			ExecTimeout:    10 * time.Second,
			InstallTimeout: 5 * time.Minute,
		},
		Pipeline: PipelineConfig{
			QueueSize:       8,
			ReadTimeout:     100 * time.Millisecond,
			MaxReadFailures: 50,
		},
		Audio: AudioConfig{
			DuckFactor:    0.3,
			DuckMinVolume: 10,
		},
		STT: STTConfig{
			Engine:       EngineWhisper,
			WhisperModel: "third_party/whisper.cpp/models/ggml-medium.bin",
			Language:     "auto",
			OpenAIModel:  "whisper-1",
		},
		Control: ControlConfig{
			Socket: "/tmp/murmur.sock",
		},
		Bus: BusConfig{
			Name: "murmur",
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file
// keep their current value.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays MURMUR_* variables and OPENAI_API_KEY onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MURMUR_LOG_LEVEL":     &cfg.LogLevel,
		"MURMUR_PLUGINS_DIR":   &cfg.Plugins.Dir,
		"MURMUR_INPUT":         &cfg.Audio.Input,
		"MURMUR_CHIME":         &cfg.Audio.Chime,
		"MURMUR_STT_ENGINE":    &cfg.STT.Engine,
		"MURMUR_WHISPER_MODEL": &cfg.STT.WhisperModel,
		"MURMUR_LANGUAGE":      &cfg.STT.Language,
		"MURMUR_PROXY":         &cfg.STT.Proxy,
		"MURMUR_VOICE":         &cfg.TTS.Voice,
		"MURMUR_SOCKET":        &cfg.Control.Socket,
		"MURMUR_BUS_URL":       &cfg.Bus.URL,
		"MURMUR_METRICS_ADDR":  &cfg.Metrics.Addr,
		"OPENAI_API_KEY":       &cfg.OpenAIAPIKey,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("MURMUR_QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MURMUR_QUEUE_SIZE: %w", err)
		}
		cfg.Pipeline.QueueSize = n
	}
	if v, ok := lookup("MURMUR_EXEC_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MURMUR_EXEC_TIMEOUT: %w", err)
		}
		cfg.Plugins.ExecTimeout = d
	}
	if v, ok := lookup("MURMUR_INSTALL_DEPS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MURMUR_INSTALL_DEPS: %w", err)
		}
		cfg.Plugins.InstallDeps = b
	}

	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if _, ok := LogLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.Plugins.Dir == "" {
		errs = append(errs, errors.New("plugins.dir is empty"))
	}
	if c.Plugins.ExecTimeout <= 0 {
		errs = append(errs, fmt.Errorf("plugins.exec_timeout must be positive, got %s", c.Plugins.ExecTimeout))
	}
	if c.Plugins.InstallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("plugins.install_timeout must be positive, got %s", c.Plugins.InstallTimeout))
	}
	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize))
	}
	if c.Pipeline.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.read_timeout must be positive, got %s", c.Pipeline.ReadTimeout))
	}
	if c.Pipeline.MaxReadFailures <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_read_failures must be positive, got %d", c.Pipeline.MaxReadFailures))
	}
	if c.Audio.DuckFactor <= 0 || c.Audio.DuckFactor > 1 {
		errs = append(errs, fmt.Errorf("audio.duck_factor must be in (0, 1], got %g", c.Audio.DuckFactor))
	}

	switch c.STT.Engine {
	case EngineWhisper:
		if c.STT.WhisperModel == "" {
			errs = append(errs, errors.New("stt.whisper_model is empty"))
		}
	case EngineOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown stt engine %q", c.STT.Engine))
	}

	return errors.Join(errs...)
}
