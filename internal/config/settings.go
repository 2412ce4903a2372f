package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/xpanvictor/voicemode/internal/constants/prompts"
	"github.com/xpanvictor/voicemode/pkg/io/stt/vad"
)

type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type AudioConfig struct {
	InputDevice      string `mapstructure:"input_device"`
	OutputDevice     string `mapstructure:"output_device"`
	CaptureRate      int    `mapstructure:"capture_rate"`
	PlaybackRate     int    `mapstructure:"playback_rate"`
	FrameMs          int    `mapstructure:"frame_ms"`
	PlaybackBlockMs  int    `mapstructure:"playback_block_ms"`
	VisualizerBands  int    `mapstructure:"visualizer_bands"`
	PlaybackQueueCap int    `mapstructure:"playback_queue_cap"`
}

func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

type VADConfig struct {
	Threshold           float64 `mapstructure:"threshold"`
	SilenceDurationMs   int     `mapstructure:"silence_duration_ms"`
	MinSpeechDurationMs int     `mapstructure:"min_speech_duration_ms"`
	PreRollMs           int     `mapstructure:"pre_roll_ms"`
}

// Detector converts the file representation into detector tuning.
func (v VADConfig) Detector() vad.Config {
	return vad.Config{
		Threshold:         v.Threshold,
		SilenceDuration:   time.Duration(v.SilenceDurationMs) * time.Millisecond,
		MinSpeechDuration: time.Duration(v.MinSpeechDurationMs) * time.Millisecond,
		PreRoll:           time.Duration(v.PreRollMs) * time.Millisecond,
	}
}

type VoiceConfig struct {
	InputMode         string `mapstructure:"input_mode"` // push_to_talk | voice_activated
	SpeechOutput      bool   `mapstructure:"speech_output"`
	MinRecordingBytes int    `mapstructure:"min_recording_bytes"`
	SettleDelayMs     int    `mapstructure:"settle_delay_ms"`
	SystemPrompt      string `mapstructure:"system_prompt"`
	HistoryLimit      int    `mapstructure:"history_limit"`
	SynthesisBuffer   int    `mapstructure:"synthesis_buffer"`
}

type InferenceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type TranscriptionConfig struct {
	Model     string `mapstructure:"model"`
	Language  string `mapstructure:"language"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type ChatConfig struct {
	Provider        string   `mapstructure:"provider"` // openai | ollama | gemini
	Model           string   `mapstructure:"model"`
	MaxTokens       int      `mapstructure:"max_tokens"`
	Temperature     float64  `mapstructure:"temperature"`
	DisableThinking bool     `mapstructure:"disable_thinking"`
	OllamaURLs      []string `mapstructure:"ollama_urls"`
	OllamaModel     string   `mapstructure:"ollama_model"`
	GeminiAPIKey    string   `mapstructure:"gemini_api_key"`
	GeminiModel     string   `mapstructure:"gemini_model"`
}

type SynthesisConfig struct {
	Engine    string  `mapstructure:"engine"` // openai | edge
	Model     string  `mapstructure:"model"`
	Voice     string  `mapstructure:"voice"`
	Speed     float64 `mapstructure:"speed"`
	EdgeURL   string  `mapstructure:"edge_url"`
	EdgeVoice string  `mapstructure:"edge_voice"`
	EdgeRate  string  `mapstructure:"edge_rate"`
	TimeoutMs int     `mapstructure:"timeout_ms"`
}

type Settings struct {
	Server        ServerConfig        `mapstructure:"server"`
	Audio         AudioConfig         `mapstructure:"audio"`
	VAD           VADConfig           `mapstructure:"vad"`
	Voice         VoiceConfig         `mapstructure:"voice"`
	Inference     InferenceConfig     `mapstructure:"inference"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Env           string              `mapstructure:"env"`
	Debug         bool                `mapstructure:"debug"`
}

// Loader keeps the viper instance around so the file can be watched.
type Loader struct {
	v *viper.Viper
}

func NewLoader(paths ...string) *Loader {
	v := viper.New()
	v.SetEnvPrefix("VOICEMODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config_" + genEnv(v))
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	return &Loader{v: v}
}

// Load reads the config file if present; defaults and environment
// variables cover everything else.
func (l *Loader) Load() (*Settings, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Settings, error) {
	var settings Settings
	if err := l.v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Watch calls fn with freshly decoded settings whenever the config file
// changes. Invalid edits are reported to onErr and otherwise ignored.
func (l *Loader) Watch(fn func(*Settings), onErr func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s, err := l.decode()
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("ignoring config change in %s: %w", e.Name, err))
			}
			return
		}
		fn(s)
	})
	l.v.WatchConfig()
}

// ConfigFile is the file in use, empty when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func Load() (*Settings, error) {
	return NewLoader().Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("debug", false)

	v.SetDefault("server.address", ":8088")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("audio.input_device", "")
	v.SetDefault("audio.output_device", "")
	v.SetDefault("audio.capture_rate", 16000)
	v.SetDefault("audio.playback_rate", 24000)
	v.SetDefault("audio.frame_ms", 20)
	v.SetDefault("audio.playback_block_ms", 20)
	v.SetDefault("audio.visualizer_bands", 16)
	v.SetDefault("audio.playback_queue_cap", 32)

	def := vad.DefaultConfig()
	v.SetDefault("vad.threshold", def.Threshold)
	v.SetDefault("vad.silence_duration_ms", def.SilenceDuration.Milliseconds())
	v.SetDefault("vad.min_speech_duration_ms", def.MinSpeechDuration.Milliseconds())
	v.SetDefault("vad.pre_roll_ms", def.PreRoll.Milliseconds())

	v.SetDefault("voice.input_mode", "push_to_talk")
	v.SetDefault("voice.speech_output", true)
	v.SetDefault("voice.min_recording_bytes", 2000)
	v.SetDefault("voice.settle_delay_ms", 500)
	v.SetDefault("voice.system_prompt", prompts.VOICE_PROMPT.GetCurrentPrompt().Content)
	v.SetDefault("voice.history_limit", 20)
	v.SetDefault("voice.synthesis_buffer", 8)

	v.SetDefault("inference.base_url", "http://localhost:10240/v1")
	v.SetDefault("inference.api_key", "")

	v.SetDefault("transcription.model", "whisper-large-v3-turbo")
	v.SetDefault("transcription.language", "")
	v.SetDefault("transcription.timeout_ms", 60000)

	v.SetDefault("chat.provider", "openai")
	v.SetDefault("chat.model", "qwen3-4b")
	v.SetDefault("chat.max_tokens", 1024)
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.disable_thinking", true)
	v.SetDefault("chat.ollama_urls", []string{})
	v.SetDefault("chat.ollama_model", "llama3:8b")
	v.SetDefault("chat.gemini_api_key", "")
	v.SetDefault("chat.gemini_model", "gemini-2.5-flash-lite")

	v.SetDefault("synthesis.engine", "openai")
	v.SetDefault("synthesis.model", "kokoro")
	v.SetDefault("synthesis.voice", "af_heart")
	v.SetDefault("synthesis.speed", 1.0)
	v.SetDefault("synthesis.edge_url", "http://localhost:10240")
	v.SetDefault("synthesis.edge_voice", "en-US-AriaNeural")
	v.SetDefault("synthesis.edge_rate", "+0%")
	v.SetDefault("synthesis.timeout_ms", 30000)
}

func genEnv(v *viper.Viper) string {
	env := v.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
