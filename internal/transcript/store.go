package transcript

import (
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// PlaceholderUserText is shown on a user turn until the backend resolves
// the transcription.
const PlaceholderUserText = "Voice message..."

var ErrTurnNotFound = errors.New("turn not found")

// Payload is a playable audio object attached to a turn.
type Payload struct {
	Data []byte `json:"-"`
	MIME string `json:"mime"`
}

// DataURI frames the payload as a data URI suitable for direct playback
// in a media element.
func (p *Payload) DataURI() string {
	if p == nil || len(p.Data) == 0 {
		return ""
	}
	return "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Turn is one message in the conversation. ID and CreatedAt are immutable;
// Text is mutated at most once (user-turn transcription backfill).
type Turn struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Audio     *Payload  `json:"audio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Language  string    `json:"language,omitempty"`
}

// Store is the append-only conversation transcript. Turns are never removed
// individually; Clear empties the whole sequence atomically. The store lives
// in process memory only.
type Store struct {
	mu    sync.RWMutex
	turns []*Turn
}

func NewStore() *Store {
	return &Store{}
}

// AppendUser adds an optimistic user turn carrying the just-recorded audio.
// Its text starts as a placeholder and is backfilled via SetText once the
// backend resolves the transcription.
func (s *Store) AppendUser(audio *Payload, language string) Turn {
	t := &Turn{
		ID:        uuid.NewString(),
		Speaker:   SpeakerUser,
		Text:      PlaceholderUserText,
		Audio:     audio,
		CreatedAt: time.Now().UTC(),
		Language:  language,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	return *t
}

// AppendBot adds a bot turn. Its text is set exactly once, here.
func (s *Store) AppendBot(text string, audio *Payload, language string) Turn {
	t := &Turn{
		ID:        uuid.NewString(),
		Speaker:   SpeakerBot,
		Text:      text,
		Audio:     audio,
		CreatedAt: time.Now().UTC(),
		Language:  language,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	return *t
}

// SetText backfills the text of the turn with the given id. The turn is
// matched by its original identifier, never re-derived.
func (s *Store) SetText(id, text string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.turns {
		if t.ID == id {
			t.Text = text
			return *t, nil
		}
	}
	return Turn{}, ErrTurnNotFound
}

// Snapshot returns the turns in creation order.
func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = *t
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear empties the transcript. Readers never observe a partial clear.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}
