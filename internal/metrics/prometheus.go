package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the voice pipeline.
type Metrics struct {
	Turns          prometheus.Counter
	BargeIns       prometheus.Counter
	NoiseDiscarded prometheus.Counter
	EmptyDiscarded prometheus.Counter
	Cancellations  prometheus.Counter
	Failures       *prometheus.CounterVec // by stage
	DeviceFaults   prometheus.Counter

	StageLatency   *prometheus.HistogramVec // by stage
	FirstAudio     prometheus.Histogram
	RecordingBytes prometheus.Histogram

	ChunksSynthesized prometheus.Counter
	ChunksPlayed      prometheus.Counter

	State *prometheus.GaugeVec // one-hot by state
}

// New registers every metric on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounter(prometheus.CounterOpts{
			Name: "voicemode_turns_total",
			Help: "Conversation turns started",
		}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Name: "voicemode_barge_ins_total",
			Help: "Replies interrupted by the user",
		}),
		NoiseDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "voicemode_noise_discarded_total",
			Help: "Recordings dropped for being below the minimum size",
		}),
		EmptyDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "voicemode_empty_transcripts_total",
			Help: "Transcriptions that came back empty",
		}),
		Cancellations: f.NewCounter(prometheus.CounterOpts{
			Name: "voicemode_cancellations_total",
			Help: "Explicit cancellations",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemode_failures_total",
			Help: "Turns aborted by a service failure",
		}, []string{"stage"}),
		DeviceFaults: f.NewCounter(prometheus.CounterOpts{
			Name: "voicemode_device_faults_total",
			Help: "Microphone failures",
		}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicemode_stage_seconds",
			Help:    "Latency of transcription, chat and synthesis requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		FirstAudio: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemode_first_audio_seconds",
			Help:    "Time from end of user speech to the first synthesized chunk",
			Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
		}),
		RecordingBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemode_recording_bytes",
			Help:    "Size of finished recordings",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 10),
		}),
		ChunksSynthesized: f.NewCounter(prometheus.CounterOpts{
			Name: "voicemode_chunks_synthesized_total",
			Help: "Text chunks converted to audio",
		}),
		ChunksPlayed: f.NewCounter(prometheus.CounterOpts{
			Name: "voicemode_chunks_played_total",
			Help: "Audio chunks played to completion",
		}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicemode_state",
			Help: "Current conversation state (1 for the active state)",
		}, []string{"state"}),
	}
}

// SetState marks one state active and clears the others.
func (m *Metrics) SetState(active string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}
