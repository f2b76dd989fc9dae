package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"github.com/openai/openai-go/v3/option"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"murmur/internal/audio"
	"murmur/internal/audio/mic"
	"murmur/internal/bus"
	"murmur/internal/config"
	"murmur/internal/ipc"
	"murmur/internal/metrics"
	"murmur/internal/notify"
	"murmur/internal/pipeline"
	"murmur/internal/plugin"
	"murmur/internal/proxy"
	"murmur/internal/recognize"
	"murmur/internal/router"
	"murmur/internal/tts"
	"murmur/pkg/stt"
	"murmur/pkg/stt/whisper"
	"murmur/pkg/voice"
)

const shutdownTimeout = 5 * time.Second

func main() {
	flags := config.BindFlags(cli.CommandLine)
	cli.Parse()

	cfg, err := flags.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      config.LogLevels[cfg.LogLevel],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up")

	if err := run(cfg); err != nil {
		log.Error("Shutting down", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	mx := metrics.New(registry)

	reg, err := discoverPlugins(ctx, cfg)
	if err != nil {
		return err
	}
	mx.SetPlugins(reg.Len())
	log.Info("Plugins loaded", "count", reg.Len(), "names", reg.Names())

	source, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	tr, closeSTT, err := openTranscriber(cfg)
	if err != nil {
		return err
	}
	defer closeSTT()

	speech, err := tts.NewEspeak(cfg.TTS.Voice)
	if err != nil {
		return fmt.Errorf("init tts: %w", err)
	}
	defer speech.Close()

	options := []pipeline.Option{
		pipeline.WithQueueSize(cfg.Pipeline.QueueSize),
		pipeline.WithReadTimeout(cfg.Pipeline.ReadTimeout),
		pipeline.WithMaxReadFailures(cfg.Pipeline.MaxReadFailures),
		pipeline.WithMetrics(mx),
	}

	if cfg.Audio.Chime != "" {
		chime, err := notify.NewChime(cfg.Audio.Chime)
		if err != nil {
			return fmt.Errorf("load chime: %w", err)
		}
		options = append(options, pipeline.WithCue(chime))
	}
	if cfg.Audio.Duck {
		ducker := audio.NewDucker(audio.Pactl{}, []string{"espeak", "murmur"}, cfg.Audio.DuckMinVolume)
		options = append(options, pipeline.WithDucker(ducker, cfg.Audio.DuckFactor, -1))
	}

	var mirror *bus.Mirror
	if cfg.Bus.URL != "" {
		mirror = bus.NewMirror(cfg.Bus.URL, cfg.Bus.Name, bus.WithMetrics(mx))
		options = append(options, pipeline.WithObserver(mirror))
	}

	exec := plugin.NewExecutor(plugin.WithExecTimeout(cfg.Plugins.ExecTimeout))
	p, err := pipeline.New(source, recognize.NewSegmenter(tr), router.New(reg), exec, speech, options...)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	ctl, err := ipc.Listen(cfg.Control.Socket, control(p, reg))
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer ctl.Close()

	log.Info("Boot up - successful", "socket", cfg.Control.Socket)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return p.Run(gctx)
	})
	g.Go(func() error { return ctl.Serve(gctx) })
	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx) })
	}
	if cfg.Metrics.Addr != "" {
		serveMetrics(gctx, g, cfg.Metrics.Addr, registry)
	}

	return g.Wait()
}

func discoverPlugins(ctx context.Context, cfg config.Config) (*plugin.Registry, error) {
	options := []plugin.LoaderOption{
		plugin.WithBuiltins(plugin.Builtins()...),
		plugin.WithStrictNames(cfg.Plugins.StrictNames),
	}
	if cfg.Plugins.InstallDeps {
		options = append(options, plugin.WithInstaller(plugin.NewExecInstaller(
			plugin.WithInstallTimeout(cfg.Plugins.InstallTimeout),
			plugin.WithAllowedPackages(cfg.Plugins.AllowedPackages...),
		)))
	}

	reg, err := plugin.NewLoader(options...).Discover(ctx, cfg.Plugins.Dir)
	if err != nil {
		return nil, fmt.Errorf("discover plugins: %w", err)
	}
	return reg, nil
}

func openSource(ctx context.Context, cfg config.Config) (voice.AudioSource, func(), error) {
	if cfg.Audio.Input != "" {
		src, err := audio.OpenFile(ctx, cfg.Audio.Input, audio.DefaultFrameSize)
		if err != nil {
			return nil, nil, fmt.Errorf("open input: %w", err)
		}
		log.Info("Replaying input", "file", cfg.Audio.Input, "duration", src.Duration())
		return src, func() { src.Close() }, nil
	}

	capture, err := mic.Open(mic.FrameSize)
	if err != nil {
		return nil, nil, fmt.Errorf("open microphone: %w", err)
	}
	return capture, func() { capture.Close() }, nil
}

func openTranscriber(cfg config.Config) (recognize.Transcriber, func(), error) {
	switch cfg.STT.Engine {
	case config.EngineOpenAI:
		httpClient, err := proxy.NewSocksClient(cfg.STT.Proxy)
		if err != nil {
			return nil, nil, fmt.Errorf("socks proxy %s: %w", cfg.STT.Proxy, err)
		}
		tr := stt.NewOpenAI(cfg.STT.OpenAIModel, cfg.STT.Language,
			option.WithAPIKey(cfg.OpenAIAPIKey),
			option.WithHTTPClient(httpClient),
		)
		log.Debug("Loaded cloud transcriber", "model", cfg.STT.OpenAIModel, "proxy", cfg.STT.Proxy)
		return tr, func() {}, nil

	default:
		tr, err := whisper.New(cfg.STT.WhisperModel, whisper.Options{
			Language: cfg.STT.Language,
			Threads:  cfg.STT.Threads,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init whisper: %w", err)
		}
		log.Debug("Loaded whisper", "model", cfg.STT.WhisperModel)
		return tr, func() { tr.Close() }, nil
	}
}

func control(p *pipeline.Pipeline, reg *plugin.Registry) ipc.Handler {
	return func(_ context.Context, msg ipc.ControlMessage) ipc.Reply {
		switch msg.Cmd {
		case ipc.CmdStop:
			log.Info("Stop requested over control socket")
			p.Stop()
			return ipc.Reply{OK: true, State: p.State().String()}
		case ipc.CmdStatus:
			return ipc.Reply{OK: true, State: p.State().String()}
		case ipc.CmdPlugins:
			var list []ipc.PluginInfo
			for _, d := range reg.All() {
				list = append(list, ipc.PluginInfo{
					Name:        d.Name,
					Runtime:     d.Runtime().String(),
					Author:      d.Metadata.Author,
					Description: d.Metadata.Description,
				})
			}
			return ipc.Reply{OK: true, Plugins: list}
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return ipc.Reply{Error: "unknown command " + msg.Cmd}
		}
	}
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	metrics.RegisterEndpoint(mux, registry)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
