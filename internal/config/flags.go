package config

import (
	"fmt"
	"os"

	cli "github.com/spf13/pflag"
)

// Flags holds the command-line overrides. Only flags the user set are applied.
type Flags struct {
	fs         *cli.FlagSet
	values     Config
	configPath string
	envFile    string
}

// BindFlags registers the daemon flags on fs.
func BindFlags(fs *cli.FlagSet) *Flags {
	f := &Flags{fs: fs, values: Default()}
	v := &f.values

	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fs.StringVarP(&f.envFile, "env", "e", ".env", "Env file path")
	fs.StringVarP(&v.LogLevel, "log", "l", v.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&v.Plugins.Dir, "plugins", v.Plugins.Dir, "Plugin root directory")
	fs.BoolVar(&v.Plugins.StrictNames, "strict-names", v.Plugins.StrictNames, "Reject duplicate plugin names instead of replacing")
	fs.BoolVar(&v.Plugins.InstallDeps, "install-deps", v.Plugins.InstallDeps, "Install plugin dependencies at startup")
	fs.DurationVar(&v.Plugins.ExecTimeout, "exec-timeout", v.Plugins.ExecTimeout, "Per-command plugin time budget")
	fs.IntVar(&v.Pipeline.QueueSize, "queue-size", v.Pipeline.QueueSize, "Capacity of the command and speech queues")
	fs.DurationVar(&v.Pipeline.ReadTimeout, "read-timeout", v.Pipeline.ReadTimeout, "Audio read timeout")
	fs.StringVarP(&v.Audio.Input, "input", "i", v.Audio.Input, "Replay a wav, mp3 or ogg file instead of the microphone")
	fs.StringVar(&v.Audio.Chime, "chime", v.Audio.Chime, "MP3 played when a command is taken")
	fs.BoolVar(&v.Audio.Duck, "duck", v.Audio.Duck, "Lower other audio while speaking")
	fs.StringVar(&v.STT.Engine, "stt", v.STT.Engine, "Speech recognition engine (whisper, openai)")
	fs.StringVarP(&v.STT.WhisperModel, "model", "m", v.STT.WhisperModel, "Whisper model path")
	fs.StringVar(&v.STT.Language, "lang", v.STT.Language, "Recognition language")
	fs.StringVarP(&v.STT.Proxy, "proxy", "p", v.STT.Proxy, "Socks proxy address for cloud requests")
	fs.StringVar(&v.TTS.Voice, "voice", v.TTS.Voice, "espeak-ng voice")
	fs.StringVarP(&v.Control.Socket, "socket", "s", v.Control.Socket, "Control socket path")
	fs.StringVarP(&v.Bus.URL, "bus", "u", v.Bus.URL, "Url of hub to mirror events to")
	fs.StringVar(&v.Metrics.Addr, "metrics-addr", v.Metrics.Addr, "Serve Prometheus metrics on this address")

	return f
}

// Load builds the effective configuration and validates it.
func (f *Flags) Load() (Config, error) {
	cfg := Default()

	if f.configPath != "" {
		if err := LoadFile(f.configPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := LoadEnvFile(f.envFile); err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	f.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (f *Flags) apply(cfg *Config) {
	v := &f.values
	overrides := map[string]func(){
		"log":          func() { cfg.LogLevel = v.LogLevel },
		"plugins":      func() { cfg.Plugins.Dir = v.Plugins.Dir },
		"strict-names": func() { cfg.Plugins.StrictNames = v.Plugins.StrictNames },
		"install-deps": func() { cfg.Plugins.InstallDeps = v.Plugins.InstallDeps },
		"exec-timeout": func() { cfg.Plugins.ExecTimeout = v.Plugins.ExecTimeout },
		"queue-size":   func() { cfg.Pipeline.QueueSize = v.Pipeline.QueueSize },
		"read-timeout": func() { cfg.Pipeline.ReadTimeout = v.Pipeline.ReadTimeout },
		"input":        func() { cfg.Audio.Input = v.Audio.Input },
		"chime":        func() { cfg.Audio.Chime = v.Audio.Chime },
		"duck":         func() { cfg.Audio.Duck = v.Audio.Duck },
		"stt":          func() { cfg.STT.Engine = v.STT.Engine },
		"model":        func() { cfg.STT.WhisperModel = v.STT.WhisperModel },
		"lang":         func() { cfg.STT.Language = v.STT.Language },
		"proxy":        func() { cfg.STT.Proxy = v.STT.Proxy },
		"voice":        func() { cfg.TTS.Voice = v.TTS.Voice },
		"socket":       func() { cfg.Control.Socket = v.Control.Socket },
		"bus":          func() { cfg.Bus.URL = v.Bus.URL },
		"metrics-addr": func() { cfg.Metrics.Addr = v.Metrics.Addr },
	}

	for name, set := range overrides {
		if f.fs.Changed(name) {
			set()
		}
	}
}
