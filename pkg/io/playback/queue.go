package playback

import (
	"context"
	"errors"
	"fmt"
	"math/cmplx"
	"sync"
	"time"

	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
	"github.com/xpanvictor/voicemode/pkg/io/tts/stream"
	"gonum.org/v1/gonum/dsp/fourier"
)

var ErrStopped = errors.New("playback stopped")

// Failure is a chunk the queue could not play. It ends its turn.
type Failure struct {
	Ordinal int
	Err     error
}

func (f *Failure) Error() string { return fmt.Sprintf("chunk %d: %v", f.Ordinal, f.Err) }
func (f *Failure) Unwrap() error { return f.Err }

// Listener is told when the queue goes from empty to busy and back.
// PlaybackStarted runs synchronously inside Enqueue, before the chunk can
// reach the speaker.
type Listener interface {
	PlaybackStarted()
	PlaybackIdle()
}

// Levels is a snapshot of what is currently coming out of the speaker.
type Levels struct {
	Level float64   `json:"level"`
	Bands []float64 `json:"bands"`
}

type Config struct {
	BlockDuration time.Duration // write granularity, bounds Stop latency
	Bands         int
	Buffer        int // capacity of the input channel
}

func DefaultConfig() Config {
	return Config{BlockDuration: 20 * time.Millisecond, Bands: 16, Buffer: 32}
}

type item struct {
	gen   uint64
	chunk stream.AudioChunk
}

// Queue owns the speaker. Chunks of one turn are played strictly by
// ordinal, each to completion, by a single consumer loop.
type Queue struct {
	out    audio.OutputDevice
	format audio.Format
	block  int
	bands  int
	logger *Logger.Logger
	in     chan item

	// OnPlayed, when set before Run, is called after each chunk finishes.
	OnPlayed func(ordinal int, took time.Duration)

	// serialises listener callbacks with the state change that caused them
	notifyMu sync.Mutex

	mu       sync.Mutex
	gen      uint64
	failed   uint64 // generation ended by failErr
	failErr  error
	pending  int
	idle     chan struct{}
	listener Listener
	levels   Levels

	fft *fourier.FFT
	seq []float64
}

func New(out audio.OutputDevice, format audio.Format, cfg Config, logger *Logger.Logger) *Queue {
	def := DefaultConfig()
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	if cfg.Bands <= 0 {
		cfg.Bands = def.Bands
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	block := format.SamplesFor(cfg.BlockDuration)
	if block < 2 {
		block = 2
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		out:    out,
		format: format,
		block:  block,
		bands:  cfg.Bands,
		logger: logger,
		in:     make(chan item, cfg.Buffer),
		idle:   idle,
		levels: Levels{Bands: make([]float64, cfg.Bands)},
		fft:    fourier.NewFFT(block),
		seq:    make([]float64, block),
	}
}

func (q *Queue) SetListener(l Listener) {
	q.mu.Lock()
	q.listener = l
	q.mu.Unlock()
}

// Turn is one generation of playback. Stop or a later Begin invalidates it.
type Turn struct {
	q   *Queue
	gen uint64
}

// Begin opens a new generation, discarding anything left from the last.
func (q *Queue) Begin() *Turn {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	l, wasBusy := q.invalidate()
	if wasBusy && l != nil {
		l.PlaybackIdle()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return &Turn{q: q, gen: q.gen}
}

// Stop halts the clip being played within one block and drops everything
// still queued.
func (q *Queue) Stop() {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	l, wasBusy := q.invalidate()
	if wasBusy {
		q.logger.Debugf("playback stopped")
		if l != nil {
			l.PlaybackIdle()
		}
	}
}

func (q *Queue) invalidate() (Listener, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	wasBusy := q.pending > 0
	q.pending = 0
	q.markIdle()
	return q.listener, wasBusy
}

// markIdle must be called with mu held.
func (q *Queue) markIdle() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
	q.levels = Levels{Bands: make([]float64, q.bands)}
}

// Busy reports whether any chunk is queued or playing.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending > 0
}

func (q *Queue) Levels() Levels {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := Levels{Level: q.levels.Level, Bands: make([]float64, len(q.levels.Bands))}
	copy(out.Bands, q.levels.Bands)
	return out
}

// Enqueue implements stream.Sink.
func (t *Turn) Enqueue(ctx context.Context, c stream.AudioChunk) error {
	return t.q.enqueue(ctx, t.gen, c)
}

// Wait blocks until every chunk enqueued on this turn has played. It
// returns the turn's *Failure if a chunk could not be played, or
// ErrStopped if the turn was invalidated first.
func (t *Turn) Wait(ctx context.Context) error {
	return t.q.waitIdle(ctx, t.gen)
}

func (q *Queue) enqueue(ctx context.Context, gen uint64, c stream.AudioChunk) error {
	q.notifyMu.Lock()
	q.mu.Lock()
	if gen != q.gen {
		err := q.staleErr(gen)
		q.mu.Unlock()
		q.notifyMu.Unlock()
		return err
	}
	q.pending++
	started := q.pending == 1
	if started {
		q.idle = make(chan struct{})
	}
	l := q.listener
	q.mu.Unlock()
	if started && l != nil {
		l.PlaybackStarted()
	}
	q.notifyMu.Unlock()

	select {
	case q.in <- item{gen: gen, chunk: c}:
		return nil
	case <-ctx.Done():
		q.finish(gen)
		return ctx.Err()
	}
}

func (q *Queue) waitIdle(ctx context.Context, gen uint64) error {
	q.mu.Lock()
	if gen != q.gen {
		err := q.staleErr(gen)
		q.mu.Unlock()
		return err
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return q.staleErr(gen)
	}
	return nil
}

// staleErr must be called with mu held.
func (q *Queue) staleErr(gen uint64) error {
	if gen == q.failed && q.failErr != nil {
		return q.failErr
	}
	return ErrStopped
}

// finish retires one chunk of gen; stale generations are ignored.
func (q *Queue) finish(gen uint64) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	q.mu.Lock()
	if gen != q.gen || q.pending == 0 {
		q.mu.Unlock()
		return
	}
	q.pending--
	drained := q.pending == 0
	if drained {
		q.markIdle()
	}
	l := q.listener
	q.mu.Unlock()
	if drained && l != nil {
		l.PlaybackIdle()
	}
}

// fail ends gen with err. Chunks of gen still queued are dropped.
func (q *Queue) fail(gen uint64, err error) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	q.failed, q.failErr = gen, err
	q.gen++
	wasBusy := q.pending > 0
	q.pending = 0
	q.markIdle()
	l := q.listener
	q.mu.Unlock()
	if wasBusy && l != nil {
		l.PlaybackIdle()
	}
}

func (q *Queue) current(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return gen == q.gen
}

// Run is the consumer loop. It reorders chunks by ordinal within a
// generation and plays them one at a time until ctx ends.
func (q *Queue) Run(ctx context.Context) error {
	var (
		gen     uint64
		next    int
		waiting = make(map[int]stream.AudioChunk)
	)
	for {
		var it item
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it = <-q.in:
		}
		if !q.current(it.gen) {
			continue
		}
		if it.gen != gen {
			gen, next = it.gen, 0
			waiting = make(map[int]stream.AudioChunk)
		}
		if it.chunk.Ordinal < next {
			q.logger.Warnf("dropping duplicate chunk %d", it.chunk.Ordinal)
			q.finish(gen)
			continue
		}
		waiting[it.chunk.Ordinal] = it.chunk

		for {
			c, ok := waiting[next]
			if !ok {
				break
			}
			delete(waiting, next)
			next++
			if err := q.play(ctx, gen, c); err != nil {
				q.logger.Warnf("playback failed: %v", err)
				q.fail(gen, err)
				break
			}
			q.finish(gen)
		}
	}
}

// play writes one chunk. An interrupted chunk is not a failure.
func (q *Queue) play(ctx context.Context, gen uint64, c stream.AudioChunk) error {
	clip, err := audio.Decode(c.Audio.Data, c.Audio.MIME, q.format)
	if err != nil {
		return &Failure{Ordinal: c.Ordinal, Err: err}
	}

	start := time.Now()
	for off := 0; off < len(clip.Samples); off += q.block {
		if ctx.Err() != nil || !q.current(gen) {
			q.logger.Debugf("chunk %d interrupted after %s", c.Ordinal, time.Since(start))
			return nil
		}
		block := clip.Samples[off:min(off+q.block, len(clip.Samples))]
		q.measure(gen, block)
		if err := q.out.Write(block); err != nil {
			return &Failure{Ordinal: c.Ordinal, Err: err}
		}
	}
	if q.OnPlayed != nil {
		q.OnPlayed(c.Ordinal, time.Since(start))
	}
	return nil
}

// measure publishes the level and frequency bands of the block about to
// be written.
func (q *Queue) measure(gen uint64, block []int16) {
	for i := range q.seq {
		q.seq[i] = 0
		if i < len(block) {
			q.seq[i] = float64(block[i]) / 32768.0
		}
	}
	coeffs := q.fft.Coefficients(nil, q.seq)

	bands := make([]float64, q.bands)
	bins := len(coeffs) - 1 // skip DC
	per := bins / q.bands
	if per < 1 {
		per = 1
	}
	scale := 2 / float64(len(q.seq))
	for b := 0; b < q.bands; b++ {
		var sum float64
		n := 0
		for k := 1 + b*per; k < 1+(b+1)*per && k < len(coeffs); k++ {
			sum += cmplx.Abs(coeffs[k])
			n++
		}
		if n > 0 {
			bands[b] = min(1, sum/float64(n)*scale)
		}
	}

	level := audio.RMS(block)
	q.mu.Lock()
	if gen == q.gen && q.pending > 0 {
		q.levels = Levels{Level: level, Bands: bands}
	}
	q.mu.Unlock()
}
