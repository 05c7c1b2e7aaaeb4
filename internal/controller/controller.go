package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxlabs/voxchat/internal/capture"
	"github.com/voxlabs/voxchat/internal/exchange"
	"github.com/voxlabs/voxchat/internal/observability"
	"github.com/voxlabs/voxchat/internal/protocol"
	"github.com/voxlabs/voxchat/internal/transcript"
)

// State of the conversation controller.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateExchanging State = "exchanging"
)

// ErrBusy is returned when a recording is requested while the controller is
// not idle. One recording/exchange cycle runs at a time.
var ErrBusy = errors.New("a recording or exchange is already in progress")

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Capturer is the audio capture unit the controller owns.
type Capturer interface {
	Start() error
	Stop() (*capture.Recording, error)
	Level() float64
	Elapsed() time.Duration
}

// Exchanger submits one recording to the backend.
type Exchanger interface {
	Send(ctx context.Context, audio []byte, language string) (exchange.Reply, error)
}

// Notifier surfaces transient user-facing notices. Level is "info" or
// "error".
type Notifier interface {
	Notify(level, title, detail string)
}

// EventSink receives panel events. Publish must not block.
type EventSink interface {
	Publish(event any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, string) {}

type nopSink struct{}

func (nopSink) Publish(any) {}

// Controller orchestrates capture → optimistic transcript append →
// exchange → transcript resolution, and drives the recording/processing
// state visible to the panel.
type Controller struct {
	store     *transcript.Store
	capturer  Capturer
	exchanger Exchanger
	notifier  Notifier
	events    EventSink
	metrics   *observability.Metrics
	log       *zap.Logger

	mu       sync.Mutex
	state    State
	language string
}

func New(
	store *transcript.Store,
	capturer Capturer,
	exchanger Exchanger,
	notifier Notifier,
	events EventSink,
	metrics *observability.Metrics,
	defaultLanguage string,
	logger *zap.Logger,
) *Controller {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if events == nil {
		events = nopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !IsSupportedLanguage(defaultLanguage) {
		defaultLanguage = "en"
	}
	return &Controller{
		store:     store,
		capturer:  capturer,
		exchanger: exchanger,
		notifier:  notifier,
		events:    events,
		metrics:   metrics,
		log:       logger,
		state:     StateIdle,
		language:  defaultLanguage,
	}
}

// StartRecording begins a capture session. Rejected unless idle.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateRecording
	c.mu.Unlock()

	if err := c.capturer.Start(); err != nil {
		c.setState(StateIdle)
		if c.metrics != nil {
			c.metrics.RecordingEvents.WithLabelValues("start_failed").Inc()
		}
		c.log.Error("recording start failed", zap.Error(err))
		c.notifier.Notify("error", "Recording failed", "Could not access microphone")
		c.events.Publish(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "microphone_unavailable",
			Detail: err.Error(),
		})
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordingEvents.WithLabelValues("started").Inc()
	}
	c.publishState(StateRecording)
	c.notifier.Notify("info", "Recording started", "Speak clearly into your microphone")
	return nil
}

// StopRecording finalizes the capture, appends the optimistic user turn and
// runs the exchange to completion. Calling it while not recording is a
// no-op. Exchange failures never propagate: they become a bot turn plus a
// transient notice, so the transcript stays the record of what happened.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	c.state = StateExchanging
	language := c.language
	c.mu.Unlock()
	c.publishState(StateExchanging)

	rec, err := c.capturer.Stop()
	if err != nil {
		c.setState(StateIdle)
		c.publishState(StateIdle)
		if c.metrics != nil {
			c.metrics.RecordingEvents.WithLabelValues("finalize_failed").Inc()
		}
		c.log.Error("recording finalize failed", zap.Error(err))
		c.notifier.Notify("error", "Recording failed", "Could not finalize the recording")
		return err
	}
	if rec == nil {
		// The capture unit was already released, e.g. by shutdown racing a
		// stop command. Nothing was recorded, nothing to exchange.
		c.setState(StateIdle)
		c.publishState(StateIdle)
		if c.metrics != nil {
			c.metrics.RecordingEvents.WithLabelValues("aborted").Inc()
		}
		c.log.Info("recording aborted, capture already released")
		return nil
	}

	if c.metrics != nil {
		c.metrics.RecordingEvents.WithLabelValues("stopped").Inc()
		c.metrics.ObserveStage(observability.StageCapture, rec.Elapsed)
	}
	c.notifier.Notify("info", "Recording stopped", "Processing your voice message...")

	userTurn := c.store.AppendUser(&transcript.Payload{Data: rec.WAV, MIME: "audio/wav"}, language)
	c.publishTurn(protocol.TypeTurnAdded, userTurn)
	c.syncTurnGauge()

	start := time.Now()
	reply, err := c.exchanger.Send(ctx, rec.WAV, language)
	elapsed := time.Since(start)

	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveExchange(resultLabel(err), elapsed)
		}
		c.log.Error("exchange failed", zap.Error(err), zap.Duration("elapsed", elapsed))

		text := fmt.Sprintf("Sorry, I encountered an error: %v. Please make sure the chatbot backend is running with proper API configuration.", err)
		botTurn := c.store.AppendBot(text, nil, "")
		c.publishTurn(protocol.TypeTurnAdded, botTurn)
		c.syncTurnGauge()
		c.notifier.Notify("error", "Processing Error", "Failed to process voice message")

		c.setState(StateIdle)
		c.publishState(StateIdle)
		return nil
	}

	if c.metrics != nil {
		c.metrics.ObserveExchange("ok", elapsed)
		c.metrics.ObserveStage(observability.StageTurnTotal, rec.Elapsed+elapsed)
	}

	userText := reply.UserText
	if strings.TrimSpace(userText) == "" {
		userText = "Voice message processed"
	}
	// Backfill by the turn's original identifier. A clear that raced the
	// exchange removed the turn; nothing to update then.
	if updated, err := c.store.SetText(userTurn.ID, userText); err == nil {
		c.publishTurn(protocol.TypeTurnUpdated, updated)
	}

	var botAudio *transcript.Payload
	if len(reply.ResponseAudio) > 0 {
		botAudio = &transcript.Payload{Data: reply.ResponseAudio, MIME: exchange.ReplyAudioMIME}
	}
	botTurn := c.store.AppendBot(reply.ResponseText, botAudio, reply.Language)
	c.publishTurn(protocol.TypeTurnAdded, botTurn)
	c.syncTurnGauge()
	c.notifier.Notify("info", "Response Ready", "AI responded in "+strings.ToUpper(language))

	c.setState(StateIdle)
	c.publishState(StateIdle)
	return nil
}

// ClearTranscript empties the transcript. Allowed in any state; it does not
// interrupt an in-flight recording or exchange.
func (c *Controller) ClearTranscript() {
	c.store.Clear()
	c.syncTurnGauge()
	c.events.Publish(protocol.TranscriptCleared{Type: protocol.TypeTranscriptCleared})
	c.notifier.Notify("info", "Chat Cleared", "All messages have been removed")
}

// SetLanguage selects the language code sent with subsequent exchanges.
func (c *Controller) SetLanguage(code string) error {
	if !IsSupportedLanguage(code) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	c.mu.Lock()
	c.language = code
	c.mu.Unlock()
	return nil
}

func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turns returns the current transcript in creation order.
func (c *Controller) Turns() []transcript.Turn {
	return c.store.Snapshot()
}

// Level reports the capture unit's current loudness estimate.
func (c *Controller) Level() float64 {
	return c.capturer.Level()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) publishState(s State) {
	c.events.Publish(protocol.StateChanged{Type: protocol.TypeStateChanged, State: string(s)})
}

func (c *Controller) publishTurn(t protocol.MessageType, turn transcript.Turn) {
	payload := TurnPayload(turn)
	switch t {
	case protocol.TypeTurnAdded:
		c.events.Publish(protocol.TurnAdded{Type: t, Turn: payload})
	case protocol.TypeTurnUpdated:
		c.events.Publish(protocol.TurnUpdated{Type: t, Turn: payload})
	}
}

func (c *Controller) syncTurnGauge() {
	if c.metrics != nil {
		c.metrics.TranscriptTurns.Set(float64(c.store.Len()))
	}
}

// TurnPayload converts a transcript turn into its panel representation.
func TurnPayload(t transcript.Turn) protocol.TurnPayload {
	return protocol.TurnPayload{
		ID:        t.ID,
		Speaker:   string(t.Speaker),
		Text:      t.Text,
		AudioURI:  t.Audio.DataURI(),
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
		Language:  t.Language,
	}
}

func resultLabel(err error) string {
	var backendErr *exchange.BackendError
	switch {
	case errors.Is(err, exchange.ErrTransportUnreachable):
		return "transport_unreachable"
	case errors.As(err, &backendErr):
		return "backend_error"
	case errors.Is(err, exchange.ErrMalformedReply):
		return "malformed_reply"
	case errors.Is(err, exchange.ErrEncodingFailed):
		return "encoding_failed"
	default:
		return "error"
	}
}
