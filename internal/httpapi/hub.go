package httpapi

import (
	"sync"

	"go.uber.org/zap"

	"github.com/voxlabs/voxchat/internal/observability"
	"github.com/voxlabs/voxchat/internal/protocol"
)

// Hub fans controller events out to connected panel websockets. Publish
// never blocks: a saturated subscriber drops events, which is acceptable
// because level updates are high-frequency and the panel re-syncs the
// transcript over REST on reconnect.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan any]struct{}
	metrics *observability.Metrics
}

func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		subs:    make(map[chan any]struct{}),
		metrics: metrics,
	}
}

// Subscribe registers a new event channel. The returned cancel func must be
// called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan any, func()) {
	ch := make(chan any, 256)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping on saturation.
func (h *Hub) Publish(event any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			if h.metrics != nil {
				h.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
			}
		}
	}
}

// Notifier publishes transient notices to the panel and mirrors them into
// the structured log. It is the explicit replacement for an ambient toast
// channel.
type Notifier struct {
	hub *Hub
	log *zap.Logger
}

func NewNotifier(hub *Hub, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{hub: hub, log: logger}
}

func (n *Notifier) Notify(level, title, detail string) {
	if level == "error" {
		n.log.Warn("notice", zap.String("title", title), zap.String("detail", detail))
	} else {
		n.log.Info("notice", zap.String("title", title), zap.String("detail", detail))
	}
	n.hub.Publish(protocol.Notice{
		Type:   protocol.TypeNotice,
		Level:  level,
		Title:  title,
		Detail: detail,
	})
}
