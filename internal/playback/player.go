package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voxlabs/voxchat/internal/audio"
	"github.com/voxlabs/voxchat/internal/transcript"
)

// ErrUnplayable marks a payload whose encoding this process cannot decode
// locally (e.g. synthesized mp3). Such payloads stay addressable through
// their data URI and play in the browser panel instead.
var ErrUnplayable = errors.New("payload is not locally playable")

type outputStream interface {
	Start() error
	Stop() error
	Close() error
}

// openOutputStream acquires the default mono output device. Tests swap this
// out to drive the player without hardware.
var openOutputStream = func(sampleRate, framesPerBuffer int, cb func([]int16)) (outputStream, error) {
	return portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, cb)
}

// Player is bound to exactly one audio payload for its lifetime. It toggles
// between playing and paused, tracks position and duration, and resets to
// paused automatically at end of stream.
type Player struct {
	ref        string
	sampleRate int
	pcm        []int16
	playable   bool

	mu      sync.Mutex
	playing bool
	pos     int
	stream  outputStream
	cancel  chan struct{}
}

// NewPlayer binds a player to one payload. WAV payloads decode to PCM for
// local playback; anything else is kept as an opaque reference.
func NewPlayer(payload *transcript.Payload) *Player {
	p := &Player{ref: payload.DataURI()}
	pcm, rate, err := audio.DecodeWAV(payload.Data)
	if err != nil {
		return p
	}
	p.sampleRate = rate
	p.playable = true
	p.pcm = make([]int16, len(pcm)/2)
	for i := range p.pcm {
		p.pcm[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	return p
}

// Ref returns the payload's playable reference (a data URI), independent of
// local decodability.
func (p *Player) Ref() string {
	return p.ref
}

// Toggle switches between playing and paused. A finished player starts over
// from the beginning.
func (p *Player) Toggle() error {
	p.mu.Lock()

	if !p.playable {
		p.mu.Unlock()
		return ErrUnplayable
	}
	if p.playing {
		stream, cancel := p.detachLocked()
		p.mu.Unlock()
		releaseStream(stream)
		if cancel != nil {
			close(cancel)
		}
		return nil
	}

	if p.pos >= len(p.pcm) {
		p.pos = 0
	}

	ended := make(chan struct{}, 1)
	stream, err := openOutputStream(p.sampleRate, 512, func(out []int16) {
		p.fill(out, ended)
	})
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		p.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("start output: %w", err)
	}

	cancel := make(chan struct{})
	p.stream = stream
	p.cancel = cancel
	p.playing = true
	p.mu.Unlock()

	go func() {
		select {
		case <-ended:
			p.mu.Lock()
			stream, cancel := p.detachLocked()
			p.mu.Unlock()
			releaseStream(stream)
			if cancel != nil {
				close(cancel)
			}
		case <-cancel:
		}
	}()
	return nil
}

// fill feeds the output callback from the decoded PCM, zero-padding past the
// end and signalling end of stream once.
func (p *Player) fill(out []int16, ended chan<- struct{}) {
	p.mu.Lock()
	n := copy(out, p.pcm[min(p.pos, len(p.pcm)):])
	p.pos += n
	done := p.pos >= len(p.pcm)
	p.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if done {
		select {
		case ended <- struct{}{}:
		default:
		}
	}
}

// detachLocked clears the playing state and hands back the resources to
// release. The stream must be stopped outside p.mu: the output callback
// takes the same mutex on every buffer, and stopping a stream waits for
// the in-flight callback to return.
func (p *Player) detachLocked() (outputStream, chan struct{}) {
	stream := p.stream
	cancel := p.cancel
	p.stream = nil
	p.cancel = nil
	p.playing = false
	return stream, cancel
}

func releaseStream(s outputStream) {
	if s == nil {
		return
	}
	_ = s.Stop()
	_ = s.Close()
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sampleRate <= 0 {
		return 0
	}
	return time.Duration(p.pos) * time.Second / time.Duration(p.sampleRate)
}

// Duration reports the payload's play time, 0 when unknown.
func (p *Player) Duration() time.Duration {
	if p.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.pcm)) * time.Second / time.Duration(p.sampleRate)
}

// ProgressRatio is position/duration in [0,1]; 0 when the duration is
// unknown or zero. Never NaN.
func (p *Player) ProgressRatio() float64 {
	dur := p.Duration()
	if dur <= 0 {
		return 0
	}
	ratio := float64(p.Position()) / float64(dur)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// FormatElapsed renders seconds as minutes:seconds with zero-padded seconds.
// Not-a-number input (duration not yet known) renders as "0:00".
func FormatElapsed(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		return "0:00"
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
