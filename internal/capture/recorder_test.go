package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxlabs/voxchat/internal/audio"
)

type fakeStream struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	closed   bool
	startErr error
}

func (f *fakeStream) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func withFakeInput(t *testing.T, stream *fakeStream) func([]int16) {
	t.Helper()
	var cb func([]int16)
	orig := openInputStream
	openInputStream = func(sampleRate, framesPerBuffer int, fn func([]int16)) (inputStream, error) {
		cb = fn
		return stream, nil
	}
	t.Cleanup(func() { openInputStream = orig })
	return func(frames []int16) { cb(frames) }
}

func TestRecorderCaptureCycle(t *testing.T) {
	stream := &fakeStream{}
	push := withFakeInput(t, stream)

	var levels []float64
	r := NewRecorder(Config{SampleRate: 16000}, nil)
	r.SetLevelHook(func(level float64, _ time.Duration) {
		levels = append(levels, level)
	})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if r.State() != StateRecording {
		t.Fatalf("State() = %q, want recording", r.State())
	}

	push([]int16{100, -100, 200, -200})
	push([]int16{5000, -5000, 5000, -5000})

	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if rec == nil {
		t.Fatalf("Stop() returned nil recording")
	}

	pcm, rate, err := audio.DecodeWAV(rec.WAV)
	if err != nil {
		t.Fatalf("finalized object is not WAV: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if len(pcm) != 16 {
		t.Fatalf("pcm bytes = %d, want 16", len(pcm))
	}

	if len(levels) != 2 {
		t.Fatalf("level hook calls = %d, want 2", len(levels))
	}
	if levels[1] <= levels[0] {
		t.Fatalf("louder chunk must produce higher level: %v", levels)
	}

	if !stream.stopped || !stream.closed {
		t.Fatalf("stream not released: %+v", stream)
	}
	if r.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", r.State())
	}
	if r.Level() != 0 {
		t.Fatalf("Level() = %v after stop, want 0", r.Level())
	}
}

func TestRecorderStopWithoutChunks(t *testing.T) {
	stream := &fakeStream{}
	withFakeInput(t, stream)

	r := NewRecorder(Config{}, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if rec == nil || len(rec.WAV) == 0 {
		t.Fatalf("zero-chunk stop must still finalize an audio object")
	}
	pcm, _, err := audio.DecodeWAV(rec.WAV)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if len(pcm) != 0 {
		t.Fatalf("pcm bytes = %d, want 0", len(pcm))
	}
}

func TestRecorderStopWhileIdleIsNoop(t *testing.T) {
	r := NewRecorder(Config{}, nil)
	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if rec != nil {
		t.Fatalf("Stop() while idle = %+v, want nil", rec)
	}
}

func TestRecorderRejectsConcurrentStart(t *testing.T) {
	stream := &fakeStream{}
	withFakeInput(t, stream)

	r := NewRecorder(Config{}, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("second Start() error = %v, want ErrNotIdle", err)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestRecorderStartFailureHoldsNothing(t *testing.T) {
	stream := &fakeStream{startErr: errors.New("device busy")}
	withFakeInput(t, stream)

	r := NewRecorder(Config{}, nil)
	err := r.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want ErrDeviceUnavailable", err)
	}
	if !stream.closed {
		t.Fatalf("stream must be closed after failed start")
	}
	if r.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", r.State())
	}
}
