package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxlabs/voxchat/internal/audio"
	"github.com/voxlabs/voxchat/internal/capture"
	"github.com/voxlabs/voxchat/internal/exchange"
	"github.com/voxlabs/voxchat/internal/protocol"
	"github.com/voxlabs/voxchat/internal/transcript"
)

type fakeCapturer struct {
	startErr error
	pcm      []byte
}

func (f *fakeCapturer) Start() error {
	return f.startErr
}

func (f *fakeCapturer) Stop() (*capture.Recording, error) {
	return &capture.Recording{
		WAV:        audio.EncodeWAV(f.pcm, 16000),
		SampleRate: 16000,
		Elapsed:    time.Second,
	}, nil
}

func (f *fakeCapturer) Level() float64         { return 0 }
func (f *fakeCapturer) Elapsed() time.Duration { return 0 }

type fakeExchanger struct {
	reply    exchange.Reply
	err      error
	gotAudio []byte
	gotLang  string
	calls    int
	onSend   func()
}

func (f *fakeExchanger) Send(_ context.Context, audio []byte, language string) (exchange.Reply, error) {
	f.calls++
	f.gotAudio = audio
	f.gotLang = language
	if f.onSend != nil {
		f.onSend()
	}
	return f.reply, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []any
}

func (s *recordingSink) Publish(event any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) all() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.events...)
}

type recordingNotifier struct {
	notices []string
}

func (n *recordingNotifier) Notify(level, title, _ string) {
	n.notices = append(n.notices, level+":"+title)
}

func newTestController(cap Capturer, ex Exchanger, sink EventSink, notifier Notifier) (*Controller, *transcript.Store) {
	store := transcript.NewStore()
	return New(store, cap, ex, notifier, sink, nil, "en", nil), store
}

func TestSuccessfulExchangeCycle(t *testing.T) {
	ex := &fakeExchanger{reply: exchange.Reply{
		UserText:          "hola",
		ResponseText:      "¡hola!",
		ResponseAudio:     []byte("mp3-bytes"),
		Language:          "es",
		WorkflowCompleted: true,
	}}
	sink := &recordingSink{}
	c, store := newTestController(&fakeCapturer{pcm: []byte{1, 2, 3, 4}}, ex, sink, nil)
	if err := c.SetLanguage("es"); err != nil {
		t.Fatalf("SetLanguage() error = %v", err)
	}

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("State() = %q, want recording", c.State())
	}
	if err := c.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", c.State())
	}

	if ex.gotLang != "es" {
		t.Fatalf("exchange language = %q, want es", ex.gotLang)
	}
	if _, _, err := audio.DecodeWAV(ex.gotAudio); err != nil {
		t.Fatalf("exchange audio not a WAV object: %v", err)
	}

	turns := store.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Speaker != transcript.SpeakerUser || turns[0].Text != "hola" {
		t.Fatalf("user turn not backfilled: %+v", turns[0])
	}
	if turns[1].Speaker != transcript.SpeakerBot || turns[1].Text != "¡hola!" {
		t.Fatalf("bot turn = %+v", turns[1])
	}
	if uri := turns[1].Audio.DataURI(); !strings.HasPrefix(uri, "data:audio/mp3;base64,") {
		t.Fatalf("bot audio reference = %q, want mp3 data URI", uri)
	}

	var updated bool
	for _, e := range sink.all() {
		if tu, ok := e.(protocol.TurnUpdated); ok && tu.Turn.Text == "hola" {
			updated = true
		}
	}
	if !updated {
		t.Fatalf("expected a turn_updated event carrying the backfilled text")
	}
}

func TestExchangeFailureAppendsBotTurn(t *testing.T) {
	ex := &fakeExchanger{err: fmt.Errorf("%w at http://localhost:8000/api (is the backend running?): connection refused", exchange.ErrTransportUnreachable)}
	notifier := &recordingNotifier{}
	c, store := newTestController(&fakeCapturer{}, ex, nil, notifier)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := c.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording() must absorb exchange failures, got %v", err)
	}

	turns := store.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Text != transcript.PlaceholderUserText {
		t.Fatalf("optimistic user turn must survive a failure: %+v", turns[0])
	}
	bot := turns[1]
	if bot.Speaker != transcript.SpeakerBot {
		t.Fatalf("second turn speaker = %q, want bot", bot.Speaker)
	}
	if !strings.Contains(bot.Text, "backend is running") {
		t.Fatalf("failure turn %q must mention the backend may not be running", bot.Text)
	}

	var gotErrorNotice bool
	for _, n := range notifier.notices {
		if n == "error:Processing Error" {
			gotErrorNotice = true
		}
	}
	if !gotErrorNotice {
		t.Fatalf("notices = %v, want a Processing Error notice", notifier.notices)
	}
	if c.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", c.State())
	}
}

func TestStartRejectedWhileBusy(t *testing.T) {
	c, _ := newTestController(&fakeCapturer{}, &fakeExchanger{}, nil, nil)
	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := c.StartRecording(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second StartRecording() error = %v, want ErrBusy", err)
	}
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	ex := &fakeExchanger{}
	c, store := newTestController(&fakeCapturer{}, ex, nil, nil)
	if err := c.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if store.Len() != 0 || ex.calls != 0 {
		t.Fatalf("idle stop must not touch transcript or backend")
	}
}

func TestCaptureStartFailure(t *testing.T) {
	c, store := newTestController(&fakeCapturer{startErr: capture.ErrDeviceUnavailable}, &fakeExchanger{}, nil, nil)
	if err := c.StartRecording(); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("StartRecording() error = %v, want ErrDeviceUnavailable", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("State() = %q, want idle after failed start", c.State())
	}
	if store.Len() != 0 {
		t.Fatalf("failed start must not append turns")
	}
}

func TestTranscriptAlternatesAcrossCycles(t *testing.T) {
	ex := &fakeExchanger{reply: exchange.Reply{UserText: "hi", ResponseText: "hello"}}
	c, store := newTestController(&fakeCapturer{}, ex, nil, nil)

	const cycles = 3
	for i := 0; i < cycles; i++ {
		if err := c.StartRecording(); err != nil {
			t.Fatalf("cycle %d StartRecording() error = %v", i, err)
		}
		if err := c.StopRecording(context.Background()); err != nil {
			t.Fatalf("cycle %d StopRecording() error = %v", i, err)
		}
	}

	turns := store.Snapshot()
	if len(turns) != 2*cycles {
		t.Fatalf("len(turns) = %d, want %d", len(turns), 2*cycles)
	}
	for i, turn := range turns {
		want := transcript.SpeakerUser
		if i%2 == 1 {
			want = transcript.SpeakerBot
		}
		if turn.Speaker != want {
			t.Fatalf("turn %d speaker = %q, want %q", i, turn.Speaker, want)
		}
	}
}

func TestEmptyRecordingStillExchanged(t *testing.T) {
	ex := &fakeExchanger{reply: exchange.Reply{ResponseText: "silence noted"}}
	c, store := newTestController(&fakeCapturer{pcm: nil}, ex, nil, nil)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := c.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if ex.calls != 1 {
		t.Fatalf("exchange calls = %d, want 1", ex.calls)
	}
	pcm, _, err := audio.DecodeWAV(ex.gotAudio)
	if err != nil {
		t.Fatalf("empty recording must still be a WAV object: %v", err)
	}
	if len(pcm) != 0 {
		t.Fatalf("pcm bytes = %d, want 0", len(pcm))
	}
	// A user turn without resolved text falls back to a generic label.
	if got := store.Snapshot()[0].Text; got != "Voice message processed" {
		t.Fatalf("user text = %q, want fallback label", got)
	}
}

func TestClearTranscript(t *testing.T) {
	sink := &recordingSink{}
	c, store := newTestController(&fakeCapturer{}, &fakeExchanger{reply: exchange.Reply{ResponseText: "x"}}, sink, nil)

	_ = c.StartRecording()
	_ = c.StopRecording(context.Background())
	if store.Len() == 0 {
		t.Fatalf("expected turns before clear")
	}

	c.ClearTranscript()
	if store.Len() != 0 {
		t.Fatalf("Len() = %d after clear, want 0", store.Len())
	}

	var cleared bool
	for _, e := range sink.all() {
		if _, ok := e.(protocol.TranscriptCleared); ok {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected a transcript_cleared event")
	}
}

func TestSetLanguageValidation(t *testing.T) {
	c, _ := newTestController(&fakeCapturer{}, &fakeExchanger{}, nil, nil)
	if err := c.SetLanguage("de"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("SetLanguage(de) error = %v, want ErrUnsupportedLanguage", err)
	}
	if err := c.SetLanguage("fr"); err != nil {
		t.Fatalf("SetLanguage(fr) error = %v", err)
	}
	if c.Language() != "fr" {
		t.Fatalf("Language() = %q, want fr", c.Language())
	}
}

func TestClearDuringExchange(t *testing.T) {
	ex := &fakeExchanger{reply: exchange.Reply{
		UserText:     "hello",
		ResponseText: "hi there",
		Language:     "en",
	}}
	c, store := newTestController(&fakeCapturer{pcm: []byte{1, 2}}, ex, nil, nil)

	// The transcript is wiped while the exchange is in flight; the user
	// turn's backfill target is gone, but the cycle must still complete.
	ex.onSend = func() { c.ClearTranscript() }

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := c.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", c.State())
	}

	turns := store.Snapshot()
	if len(turns) != 1 {
		t.Fatalf("Len() = %d after mid-exchange clear, want only the bot turn", len(turns))
	}
	if turns[0].Speaker != transcript.SpeakerBot || turns[0].Text != "hi there" {
		t.Fatalf("surviving turn = %+v, want the bot reply", turns[0])
	}
}

func TestStopAfterCaptureReleased(t *testing.T) {
	notifier := &recordingNotifier{}
	c, store := newTestController(&releasedCapturer{}, &fakeExchanger{}, nil, notifier)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := c.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording() after release error = %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", c.State())
	}
	if store.Len() != 0 {
		t.Fatalf("Len() = %d, want no turns from an aborted recording", store.Len())
	}
	for _, n := range notifier.notices {
		if strings.HasPrefix(n, "error:") {
			t.Fatalf("aborted recording raised an error notice: %q", n)
		}
	}
}

// releasedCapturer mimics a recorder whose stream was already stopped
// elsewhere, e.g. by shutdown.
type releasedCapturer struct{}

func (releasedCapturer) Start() error                      { return nil }
func (releasedCapturer) Stop() (*capture.Recording, error) { return nil, nil }
func (releasedCapturer) Level() float64                    { return 0 }
func (releasedCapturer) Elapsed() time.Duration            { return 0 }
