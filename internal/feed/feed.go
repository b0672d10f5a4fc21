// Package feed fans match events out to live subscribers, such as the
// websocket endpoint of the web portal.
package feed

import (
	"log/slog"
	"sync"
	"time"
)

type Event struct {
	Kind         string    `json:"kind"`
	TournamentID string    `json:"tournament_id"`
	MatchID      string    `json:"match_id,omitempty"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	At           time.Time `json:"at"`
}

type Options struct {
	Buffer int `toml:"buffer"`
}

func (o *Options) FillDefaults() {
	if o.Buffer == 0 {
		o.Buffer = 64
	}
}

type Subscription struct {
	h       *Hub
	topic   string
	ch      chan Event
	dropped int
	once    sync.Once
}

// C yields events in publish order. It is closed by Close or when the hub is
// closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.h.unsubscribe(s)
}

// Hub is a topic-keyed event broadcaster. Publish never blocks: a subscriber
// whose buffer is full loses the event.
type Hub struct {
	o      Options
	log    *slog.Logger
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewHub(log *slog.Logger, o Options) *Hub {
	o.FillDefaults()
	return &Hub{
		o:    o,
		log:  log,
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe listens on a topic; topics are tournament IDs. An empty topic
// receives every event.
func (h *Hub) Subscribe(topic string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &Subscription{
		h:     h,
		topic: topic,
		ch:    make(chan Event, h.o.Buffer),
	}
	if h.closed {
		close(s.ch)
		s.once.Do(func() {})
		return s
	}
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.topic)
		}
	}
	s.once.Do(func() { close(s.ch) })
}

func (h *Hub) deliverLocked(s *Subscription, ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped++
		h.log.Warn("feed subscriber is lagging, dropping event",
			slog.String("topic", s.topic),
			slog.Int("dropped", s.dropped),
		)
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs[ev.TournamentID] {
		h.deliverLocked(s, ev)
	}
	if ev.TournamentID != "" {
		for s := range h.subs[""] {
			h.deliverLocked(s, ev)
		}
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
	}
	h.subs = nil
}
