package events

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

const (
	defaultHistoryLimit = 1024
	subscriberBuffer    = 32
)

// ErrHubClosed is returned when subscribing to a hub that has shut down.
var ErrHubClosed = errors.New("events: hub closed")

// Update is one event as delivered to stream subscribers. Sequence is
// assigned by the hub and strictly increases.
type Update struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func cloneUpdate(update Update) Update {
	cloned := update
	if len(update.Attributes) > 0 {
		cloned.Attributes = make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// Hub keeps a bounded history of emitted events and broadcasts new ones to
// subscribers. Slow subscribers miss updates rather than blocking Emit.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	limit   int
	history []Update
	subs    map[uint64]*subscriber
	closed  bool
}

type subscriber struct {
	updates chan Update
	done    chan struct{}
}

func (s *subscriber) close() {
	close(s.updates)
	close(s.done)
}

// NewHub returns a hub retaining at most limit past updates. A non-positive
// limit selects the default.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Hub{limit: limit, subs: make(map[uint64]*subscriber)}
}

// Emit implements Emitter.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	update := Update{Type: evt.EventType()}
	if payload, ok := evt.(Payload); ok {
		if body := payload.Event(); body != nil {
			update.Type = body.Type
			update.Attributes = body.Clone().Attributes
		}
	}
	h.publish(update)
}

func (h *Hub) publish(update Update) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.seq++
	update.Sequence = h.seq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	h.history = append(h.history, cloneUpdate(update))
	if len(h.history) > h.limit {
		excess := len(h.history) - h.limit
		trimmed := make([]Update, h.limit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	// Sends happen under the lock so a concurrent cancel cannot close a
	// channel mid-send.
	for _, sub := range h.subs {
		select {
		case sub.updates <- cloneUpdate(update):
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a subscriber for updates after cursor. It returns the
// live channel, a cancel function and the retained backlog newer than cursor.
// The channel closes when ctx ends, cancel runs or the hub closes.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Update, func(), []Update, error) {
	if h == nil {
		return nil, nil, nil, ErrHubClosed
	}
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, errors.New("events: invalid cursor")
		}
		since = parsed
	}
	sub := &subscriber{
		updates: make(chan Update, subscriberBuffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, nil, ErrHubClosed
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	backlog := make([]Update, 0, len(h.history))
	for _, entry := range h.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if live, ok := h.subs[id]; ok {
				delete(h.subs, id)
				live.close()
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-sub.done:
			}
		}()
	}
	return sub.updates, cancel, backlog, nil
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later events are dropped.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close()
	}
}
