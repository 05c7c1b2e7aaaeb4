package capture

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/voxlabs/voxchat/internal/audio"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// ErrNotIdle is returned when Start is called while a recording is active.
// The microphone stream is exclusively owned by one recording at a time.
var ErrNotIdle = errors.New("a recording is already active")

// ErrDeviceUnavailable wraps microphone acquisition failures.
var ErrDeviceUnavailable = errors.New("microphone unavailable")

// Recording is the finalized result of one capture session.
type Recording struct {
	WAV        []byte
	SampleRate int
	Elapsed    time.Duration
}

type Config struct {
	SampleRate      int
	FramesPerBuffer int
}

type inputStream interface {
	Start() error
	Stop() error
	Close() error
}

// openInputStream acquires the default mono input device. Tests swap this
// out to drive the recorder without hardware.
var openInputStream = func(sampleRate, framesPerBuffer int, cb func([]int16)) (inputStream, error) {
	return portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, cb)
}

// Recorder buffers encoded microphone audio in memory and republishes a
// normalized loudness estimate while recording. It owns the input stream,
// the chunk buffer and the metering loop together; Stop releases all of
// them and finalizes the buffered audio exactly once.
type Recorder struct {
	cfg       Config
	log       *zap.Logger
	levelHook func(level float64, elapsed time.Duration)

	mu        sync.Mutex
	state     State
	stream    inputStream
	chunks    chan []int16
	meterDone chan struct{}
	pcm       []byte
	startedAt time.Time

	level atomic.Uint64
}

func NewRecorder(cfg Config, logger *zap.Logger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 512
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{cfg: cfg, log: logger, state: StateIdle}
}

// SetLevelHook registers a callback invoked on every metering tick while
// recording. The hook runs on the metering goroutine and must not block.
func (r *Recorder) SetLevelHook(hook func(level float64, elapsed time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levelHook = hook
}

// Start acquires the microphone and begins buffering audio. On failure no
// resources are held.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording {
		return ErrNotIdle
	}

	chunks := make(chan []int16, 64)
	stream, err := openInputStream(r.cfg.SampleRate, r.cfg.FramesPerBuffer, func(in []int16) {
		if len(in) == 0 {
			return
		}
		buf := make([]int16, len(in))
		copy(buf, in)
		select {
		case chunks <- buf:
		default:
			// Never block the realtime callback; drop when the meter
			// loop falls behind.
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.stream = stream
	r.chunks = chunks
	r.meterDone = make(chan struct{})
	r.pcm = nil
	r.startedAt = time.Now()
	r.state = StateRecording
	r.level.Store(0)

	go r.meterLoop(chunks, r.meterDone, r.startedAt, r.levelHook)

	r.log.Info("recording started",
		zap.Int("sample_rate", r.cfg.SampleRate),
		zap.Int("frames_per_buffer", r.cfg.FramesPerBuffer))
	return nil
}

// meterLoop drains captured chunks, accumulates PCM and republishes the
// level estimate at capture cadence. It exits when the chunk channel closes
// and hands the accumulated buffer back through r.pcm.
func (r *Recorder) meterLoop(chunks <-chan []int16, done chan<- struct{}, startedAt time.Time, hook func(float64, time.Duration)) {
	var pcm []byte
	for buf := range chunks {
		pcm = append(pcm, audio.Int16SliceToBytes(buf)...)
		level := audio.LevelEstimate(buf)
		r.level.Store(math.Float64bits(level))
		if hook != nil {
			hook(level, time.Since(startedAt))
		}
	}
	r.mu.Lock()
	r.pcm = pcm
	r.mu.Unlock()
	close(done)
}

// Stop finalizes the buffered audio into a single WAV object and releases
// the metering loop, the chunk buffer and the input stream. Stopping while
// idle is a no-op and returns nil. Partial buffers are finalized best-effort
// even if the device failed mid-recording.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, nil
	}

	stream := r.stream
	chunks := r.chunks
	meterDone := r.meterDone
	startedAt := r.startedAt

	r.stream = nil
	r.chunks = nil
	r.meterDone = nil
	r.state = StateIdle
	r.mu.Unlock()

	if err := stream.Stop(); err != nil {
		r.log.Warn("input stream stop failed", zap.Error(err))
	}
	if err := stream.Close(); err != nil {
		r.log.Warn("input stream close failed", zap.Error(err))
	}

	// Let the meter loop drain whatever the callback already delivered.
	close(chunks)
	<-meterDone

	r.mu.Lock()
	pcm := r.pcm
	r.pcm = nil
	r.mu.Unlock()
	r.level.Store(0)

	rec := &Recording{
		WAV:        audio.EncodeWAV(pcm, r.cfg.SampleRate),
		SampleRate: r.cfg.SampleRate,
		Elapsed:    time.Since(startedAt),
	}
	r.log.Info("recording finalized",
		zap.Int("pcm_bytes", len(pcm)),
		zap.Duration("elapsed", rec.Elapsed))
	return rec, nil
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Level reports the most recent normalized loudness estimate, 0 when idle.
func (r *Recorder) Level() float64 {
	return math.Float64frombits(r.level.Load())
}

// Elapsed reports how long the active recording has been running, 0 when idle.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return 0
	}
	return time.Since(r.startedAt)
}
