package exchange

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ReplyAudioMIME is the media type of synthesized speech returned by
// the backend. The reply audio is opaque encoded bytes; it only needs
// framing as a playable reference.
const ReplyAudioMIME = "audio/mp3"

const maxErrorBody = 4 << 10

// Config is the explicit client configuration; there is no ambient
// backend URL.
type Config struct {
	BaseURL string
	// Timeout bounds a whole exchange round trip. Zero disables the bound,
	// matching a backend that may legitimately take long on cold models.
	Timeout time.Duration
}

// Client talks to the voice chatbot backend. One POST per exchange, no
// retries: callers receive exactly one resolution or one failure.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     logger,
	}
}

type request struct {
	Audio    string `json:"audio"`
	Language string `json:"language"`
}

// Reply is the decoded backend answer for one exchange.
type Reply struct {
	UserText          string `json:"user_text"`
	ResponseText      string `json:"response_text"`
	ResponseAudio     []byte `json:"-"`
	Language          string `json:"language"`
	WorkflowCompleted bool   `json:"workflow_completed"`
}

type replyWire struct {
	UserText          string `json:"user_text"`
	ResponseText      string `json:"response_text"`
	ResponseAudio     string `json:"response_audio"`
	Language          string `json:"language"`
	WorkflowCompleted bool   `json:"workflow_completed"`
}

// Send submits one recorded audio object plus a language code and awaits
// the resolved transcription, reply text and optional reply audio.
func (c *Client) Send(ctx context.Context, audio []byte, language string) (Reply, error) {
	payload, err := json.Marshal(request{
		Audio:    base64.StdEncoding.EncodeToString(audio),
		Language: language,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	c.log.Debug("sending exchange request",
		zap.String("language", language),
		zap.Int("audio_bytes", len(audio)))

	body, err := c.post(ctx, c.baseURL+"/chatbot/", payload)
	if err != nil {
		return Reply{}, err
	}

	var wire replyWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	out := Reply{
		UserText:          wire.UserText,
		ResponseText:      wire.ResponseText,
		Language:          wire.Language,
		WorkflowCompleted: wire.WorkflowCompleted,
	}
	if wire.ResponseAudio != "" {
		out.ResponseAudio, err = base64.StdEncoding.DecodeString(wire.ResponseAudio)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: response_audio: %v", ErrMalformedReply, err)
		}
	}
	return out, nil
}

// Status is the backend capability snapshot.
type Status struct {
	Status                string   `json:"status"`
	Message               string   `json:"message"`
	GroqConfigured        bool     `json:"groq_configured"`
	GoogleCloudConfigured bool     `json:"google_cloud_configured"`
	SupportedLanguages    []string `json:"supported_languages"`
	Features              []string `json:"features"`
}

// GetStatus queries the backend capability endpoint.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chatbot/", nil)
	if err != nil {
		return Status{}, fmt.Errorf("create request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return st, nil
}

// TranslationTest is the backend-defined result of a language round trip.
type TranslationTest struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	AIResponse     string `json:"ai_response"`
	AudioGenerated bool   `json:"audio_generated"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// TestLanguage runs a translation smoke test through the backend.
func (c *Client) TestLanguage(ctx context.Context, text, sourceLanguage, targetLanguage string) (TranslationTest, error) {
	payload, err := json.Marshal(map[string]string{
		"text":            text,
		"source_language": sourceLanguage,
		"target_language": targetLanguage,
	})
	if err != nil {
		return TranslationTest{}, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	body, err := c.post(ctx, c.baseURL+"/test-language/", payload)
	if err != nil {
		return TranslationTest{}, err
	}
	var out TranslationTest
	if err := json.Unmarshal(body, &out); err != nil {
		return TranslationTest{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w at %s (is the backend running?): %v", ErrTransportUnreachable, c.baseURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &BackendError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrMalformedReply, err)
	}
	return body, nil
}
