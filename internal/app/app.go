package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xpanvictor/voicemode/internal/config"
	"github.com/xpanvictor/voicemode/internal/domains/voice"
	"github.com/xpanvictor/voicemode/internal/handlers/websocket"
	"github.com/xpanvictor/voicemode/internal/metrics"
	"github.com/xpanvictor/voicemode/internal/server"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
	"github.com/xpanvictor/voicemode/pkg/io/capture"
	"github.com/xpanvictor/voicemode/pkg/io/device"
	"github.com/xpanvictor/voicemode/pkg/io/playback"
	"github.com/xpanvictor/voicemode/pkg/io/stt/vad"
	"github.com/xpanvictor/voicemode/pkg/io/stt/whisper"
	"github.com/xpanvictor/voicemode/pkg/io/tts"
	"github.com/xpanvictor/voicemode/pkg/io/tts/edge"
	"github.com/xpanvictor/voicemode/pkg/io/tts/speech"
	"golang.org/x/sync/errgroup"
)

const sessionTimeout = 30 * time.Minute

// App represents the application with all its dependencies
type App struct {
	Config   *config.Settings
	Logger   *Logger.Logger
	Loader   *config.Loader
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Host    *device.Host
	Capture *capture.Controller
	VAD     *vad.VAD
	Output  audio.OutputDevice
	Queue   *playback.Queue

	LLMFactory *LLMRouterFactory
	Voice      *voice.Orchestrator
	WebSocket  *websocket.WebSocketHandler
	ServerDeps server.Dependencies
}

// NewApp creates a new application instance with all dependencies wired.
// The audio host is opened here, so Close must be called even when Run
// is never reached.
func NewApp(ctx context.Context, loader *config.Loader, cfg *config.Settings, logger *Logger.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		Loader: loader,
	}

	if err := app.setupDependencies(ctx); err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

// setupDependencies initializes all application dependencies
func (a *App) setupDependencies(ctx context.Context) error {
	cfg := a.Config

	// 1. metrics
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	// 2. audio devices
	captureFormat := audio.Format{SampleRate: cfg.Audio.CaptureRate, Channels: audio.CaptureFormat.Channels}
	playbackFormat := audio.Format{SampleRate: cfg.Audio.PlaybackRate, Channels: audio.PlaybackFormat.Channels}

	host, err := device.Open(cfg.Audio.FrameDuration(), a.Logger.Named("device"))
	if err != nil {
		return err
	}
	a.Host = host
	if caps := host.Capabilities(); !caps.Usable() {
		a.Logger.Warnf("audio host is missing a device (input=%t output=%t)", caps.AudioSource, caps.AudioSink)
	}

	var speaker audio.Speaker = host.Speaker()
	out, err := speaker.Open(cfg.Audio.OutputDevice, playbackFormat)
	if err != nil {
		return fmt.Errorf("failed to open output device: %w", err)
	}
	a.Output = out

	arbiter := audio.NewArbiter(host)
	a.Capture = capture.New(arbiter, captureFormat, a.Logger.Named("capture"))
	a.VAD = vad.New(arbiter, captureFormat, cfg.Audio.FrameDuration(), cfg.VAD.Detector(), a.Logger.Named("vad"))

	a.Queue = playback.New(out, playbackFormat, playback.Config{
		BlockDuration: time.Duration(cfg.Audio.PlaybackBlockMs) * time.Millisecond,
		Bands:         cfg.Audio.VisualizerBands,
		Buffer:        cfg.Audio.PlaybackQueueCap,
	}, a.Logger.Named("playback"))
	a.Queue.OnPlayed = func(ordinal int, took time.Duration) {
		a.Metrics.ChunksPlayed.Inc()
	}

	// 3. remote services
	transcriber := whisper.NewWhisperClient(whisper.Config{
		BaseURL:  cfg.Inference.BaseURL,
		APIKey:   cfg.Inference.APIKey,
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
		Timeout:  time.Duration(cfg.Transcription.TimeoutMs) * time.Millisecond,
	}, a.Logger.Named("whisper"))

	a.LLMFactory = NewLLMRouterFactory(cfg, a.Logger)
	chat, err := a.LLMFactory.CreateRouter(ctx)
	if err != nil {
		return err
	}

	synth := a.createSynthesizer()

	// 4. orchestrator
	a.Voice = voice.New(voice.Config{
		InputDevice:       cfg.Audio.InputDevice,
		Mode:              voice.InputMode(cfg.Voice.InputMode),
		SpeechOutput:      cfg.Voice.SpeechOutput,
		MinRecordingBytes: cfg.Voice.MinRecordingBytes,
		SettleDelay:       time.Duration(cfg.Voice.SettleDelayMs) * time.Millisecond,
		SystemPrompt:      cfg.Voice.SystemPrompt,
		HistoryLimit:      cfg.Voice.HistoryLimit,
		SynthesisBuffer:   cfg.Voice.SynthesisBuffer,
		SynthesisTimeout:  time.Duration(cfg.Synthesis.TimeoutMs) * time.Millisecond,
		Provider:          cfg.Chat.Provider,
		Model:             cfg.Chat.Model,
		MaxTokens:         cfg.Chat.MaxTokens,
		Temperature:       cfg.Chat.Temperature,
		DisableThinking:   cfg.Chat.DisableThinking,
	}, voice.Deps{
		Recorder:    a.Capture,
		VAD:         a.VAD,
		Transcriber: transcriber,
		Chat:        chat,
		Synthesizer: synth,
		Player:      a.Queue,
		Metrics:     a.Metrics,
	}, a.Logger)
	a.Capture.SetFaultHandler(a.Voice.ReportDeviceFault)

	// 5. transport
	meter := levels{vad: a.VAD, queue: a.Queue}
	a.WebSocket = websocket.NewWebSocketHandler(a.Logger.Named("ws"), a.Voice, meter, sessionTimeout)
	a.ServerDeps = server.Dependencies{
		Voice:     a.Voice,
		Meter:     meter,
		Devices:   a.Host,
		WebSocket: a.WebSocket,
		Gatherer:  a.Registry,
		JWTSecret: cfg.Server.JWTSecret,
		Logger:    a.Logger.Named("http"),
	}

	return nil
}

func (a *App) createSynthesizer() tts.Synthesizer {
	s := a.Config.Synthesis
	timeout := time.Duration(s.TimeoutMs) * time.Millisecond
	if s.Engine == "edge" {
		return edge.New(edge.Config{
			BaseURL: s.EdgeURL,
			Voice:   s.EdgeVoice,
			Rate:    s.EdgeRate,
			Timeout: timeout,
		}, nil, a.Logger.Named("edge"))
	}
	return speech.New(speech.Config{
		BaseURL: a.Config.Inference.BaseURL,
		APIKey:  a.Config.Inference.APIKey,
		Model:   s.Model,
		Voice:   s.Voice,
		Speed:   s.Speed,
		Timeout: timeout,
	}, a.Logger.Named("speech"))
}

// Run drives the playback queue, the orchestrator and the WebSocket fan
// out until ctx is done, and applies VAD tuning from config edits.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Queue.Run(gctx) })
	g.Go(func() error { return a.Voice.Run(gctx) })
	g.Go(func() error { return a.WebSocket.Run(gctx) })

	if a.Loader != nil && a.Loader.ConfigFile() != "" {
		a.Loader.Watch(func(s *config.Settings) {
			if err := a.Voice.SetVADConfig(s.VAD.Detector()); err != nil {
				a.Logger.Warnf("config reload: %v", err)
				return
			}
			a.Logger.Infof("voice detection tuning reloaded from %s", a.Loader.ConfigFile())
		}, func(err error) {
			a.Logger.Warn(err)
		})
	}

	if err := a.Voice.Open(); err != nil {
		a.Logger.Warnf("voice session opened degraded: %v", err)
	}

	return g.Wait()
}

// Close releases devices and provider clients.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.LLMFactory != nil {
		keep(a.LLMFactory.Close())
	}
	if a.Output != nil {
		keep(a.Output.Close())
	}
	if a.Host != nil {
		keep(a.Host.Close())
	}
	return firstErr
}

// levels feeds the visualizers.
type levels struct {
	vad   *vad.VAD
	queue *playback.Queue
}

func (l levels) InputLevel() float64           { return l.vad.Level() }
func (l levels) OutputLevels() playback.Levels { return l.queue.Levels() }
