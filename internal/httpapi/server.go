package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxlabs/voxchat/internal/config"
	"github.com/voxlabs/voxchat/internal/controller"
	"github.com/voxlabs/voxchat/internal/exchange"
	"github.com/voxlabs/voxchat/internal/observability"
	"github.com/voxlabs/voxchat/internal/playback"
	"github.com/voxlabs/voxchat/internal/protocol"
	"github.com/voxlabs/voxchat/internal/transcript"
)

// Conversation is the controller surface the panel drives.
type Conversation interface {
	StartRecording() error
	StopRecording(ctx context.Context) error
	ClearTranscript()
	SetLanguage(code string) error
	Language() string
	State() controller.State
	Turns() []transcript.Turn
	Level() float64
}

// Backend is the status-probe surface of the exchange client.
type Backend interface {
	GetStatus(ctx context.Context) (exchange.Status, error)
	TestLanguage(ctx context.Context, text, sourceLanguage, targetLanguage string) (exchange.TranslationTest, error)
}

type Server struct {
	cfg          config.Config
	conversation Conversation
	backend      Backend
	hub          *Hub
	metrics      *observability.Metrics
	log          *zap.Logger
	upgrader     websocket.Upgrader
	static       http.Handler

	playersMu sync.Mutex
	players   map[string]*playback.Player
}

func New(cfg config.Config, conversation Conversation, backend Backend, hub *Hub, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		conversation: conversation,
		backend:      backend,
		hub:          hub,
		metrics:      metrics,
		log:          logger,
		static:       newStaticHandler(),
		players:      make(map[string]*playback.Player),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections may drive the
				// microphone, unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/transcript", s.handleTranscript)
	r.Post("/v1/transcript/clear", s.handleClear)
	r.Post("/v1/recording/start", s.handleStartRecording)
	r.Post("/v1/recording/stop", s.handleStopRecording)
	r.Get("/v1/languages", s.handleLanguages)
	r.Post("/v1/language", s.handleSetLanguage)
	r.Post("/v1/playback/{turnID}/toggle", s.handleTogglePlayback)
	r.Get("/v1/backend/status", s.handleBackendStatus)
	r.Post("/v1/backend/test-language", s.handleTestLanguage)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"state":   s.conversation.State(),
		"backend": s.cfg.BackendBaseURL,
	})
}

type transcriptResponse struct {
	Turns     []protocol.TurnPayload `json:"turns"`
	State     string                 `json:"state"`
	Language  string                 `json:"language"`
	Languages []controller.Language  `json:"languages"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	turns := s.conversation.Turns()
	payloads := make([]protocol.TurnPayload, len(turns))
	for i, t := range turns {
		payloads[i] = controller.TurnPayload(t)
	}
	respondJSON(w, http.StatusOK, transcriptResponse{
		Turns:     payloads,
		State:     string(s.conversation.State()),
		Language:  s.conversation.Language(),
		Languages: controller.Languages(),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.conversation.ClearTranscript()
	s.dropPlayers()
	respondJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

type playbackResponse struct {
	TurnID          string  `json:"turn_id"`
	Playable        bool    `json:"playable"`
	Playing         bool    `json:"playing"`
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Progress        float64 `json:"progress"`
	Elapsed         string  `json:"elapsed"`
	AudioURI        string  `json:"audio_uri,omitempty"`
}

// handleTogglePlayback plays a turn's audio on the host speakers. Payloads
// this process cannot decode report playable:false with their data URI so
// the panel falls back to the browser's media element.
func (s *Server) handleTogglePlayback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "turnID")

	var turn *transcript.Turn
	for _, t := range s.conversation.Turns() {
		if t.ID == id {
			turn = &t
			break
		}
	}
	if turn == nil || turn.Audio == nil {
		respondError(w, http.StatusNotFound, "no_audio", "turn has no playable audio")
		return
	}

	s.playersMu.Lock()
	p, ok := s.players[id]
	if !ok {
		p = playback.NewPlayer(turn.Audio)
		s.players[id] = p
	}
	s.playersMu.Unlock()

	if err := p.Toggle(); err != nil {
		if errors.Is(err, playback.ErrUnplayable) {
			respondJSON(w, http.StatusOK, playbackResponse{
				TurnID:   id,
				Playable: false,
				Elapsed:  playback.FormatElapsed(0),
				AudioURI: p.Ref(),
			})
			return
		}
		respondError(w, http.StatusServiceUnavailable, "output_unavailable", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, playbackResponse{
		TurnID:          id,
		Playable:        true,
		Playing:         p.Playing(),
		PositionSeconds: p.Position().Seconds(),
		DurationSeconds: p.Duration().Seconds(),
		Progress:        p.ProgressRatio(),
		Elapsed:         playback.FormatElapsed(p.Position().Seconds()),
	})
}

// dropPlayers halts and forgets per-turn players; their turns are gone.
func (s *Server) dropPlayers() {
	s.playersMu.Lock()
	players := s.players
	s.players = make(map[string]*playback.Player)
	s.playersMu.Unlock()
	for _, p := range players {
		if p.Playing() {
			_ = p.Toggle()
		}
	}
}

func (s *Server) handleStartRecording(w http.ResponseWriter, _ *http.Request) {
	if err := s.conversation.StartRecording(); err != nil {
		if errors.Is(err, controller.ErrBusy) {
			respondError(w, http.StatusConflict, "busy", err.Error())
			return
		}
		respondError(w, http.StatusServiceUnavailable, "microphone_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"state": s.conversation.State()})
}

// handleStopRecording finalizes the capture and runs the whole exchange
// before replying, mirroring a fetch that awaits the backend. Other
// endpoints stay responsive meanwhile. The exchange outlives a dropped
// request: once stopped, the turn runs to completion.
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.conversation.StopRecording(context.WithoutCancel(r.Context())); err != nil {
		respondError(w, http.StatusInternalServerError, "finalize_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"state": s.conversation.State()})
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"languages": controller.Languages(),
		"selected":  s.conversation.Language(),
	})
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.conversation.SetLanguage(req.Language); err != nil {
		respondError(w, http.StatusBadRequest, "unsupported_language", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"language": s.conversation.Language()})
}

func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.GetStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, backendErrorCode(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleTestLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text           string `json:"text"`
		SourceLanguage string `json:"source_language"`
		TargetLanguage string `json:"target_language"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	out, err := s.backend.TestLanguage(r.Context(), req.Text, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		respondError(w, http.StatusBadGateway, backendErrorCode(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe()
	defer cancel()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-events:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancelCtx()
					return
				}
				if s.metrics != nil {
					if t, ok := eventTypeOf(msg); ok {
						s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
					}
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.hub.Publish(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}
		ctl, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(ctl.Type)).Inc()
		}
		s.dispatchControl(ctx, ctl)
	}

	cancelCtx()
	<-writerDone
}

// dispatchControl applies one panel control action. Stop runs the whole
// exchange, so it gets its own goroutine to keep the read loop live; the
// controller's state machine makes duplicate actions harmless.
func (s *Server) dispatchControl(ctx context.Context, ctl protocol.ClientControl) {
	switch ctl.Action {
	case protocol.ActionStartRecording:
		_ = s.conversation.StartRecording()
	case protocol.ActionStopRecording:
		go func() {
			_ = s.conversation.StopRecording(context.WithoutCancel(ctx))
		}()
	case protocol.ActionClear:
		s.conversation.ClearTranscript()
		s.dropPlayers()
	case protocol.ActionSetLanguage:
		if err := s.conversation.SetLanguage(ctl.Language); err != nil {
			s.hub.Publish(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "unsupported_language",
				Detail: err.Error(),
			})
		}
	}
}

func backendErrorCode(err error) string {
	var backendErr *exchange.BackendError
	switch {
	case errors.Is(err, exchange.ErrTransportUnreachable):
		return "transport_unreachable"
	case errors.As(err, &backendErr):
		return "backend_error"
	case errors.Is(err, exchange.ErrMalformedReply):
		return "malformed_reply"
	default:
		return "error"
	}
}

func eventTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.TurnAdded:
		return m.Type, true
	case protocol.TurnUpdated:
		return m.Type, true
	case protocol.TranscriptCleared:
		return m.Type, true
	case protocol.RecordingLevel:
		return m.Type, true
	case protocol.StateChanged:
		return m.Type, true
	case protocol.Notice:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
