package feed

import (
	"sync"

	"log/slog"

	"callbridge-backend/internal/callreq"
)

const subscriptionBuffer = 64

// Hub fans call-request events out to in-process subscribers. Insert events
// go to the recipient; update events to both parties. Delivery is at least
// once and unordered relative to other events for the same row; slow
// subscribers lose events rather than block publishers (the polling backstop
// corrects the gap).
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	byParty map[string]map[*Subscription]struct{}
	all     map[*Subscription]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "feed"),
		byParty: make(map[string]map[*Subscription]struct{}),
		all:     make(map[*Subscription]struct{}),
	}
}

type Subscription struct {
	C <-chan callreq.Event

	hub       *Hub
	ch        chan callreq.Event
	partyID   string
	allEvents bool

	mu     sync.Mutex
	closed bool
}

// Subscribe yields the events addressed to partyID.
func (h *Hub) Subscribe(partyID string) *Subscription {
	sub := &Subscription{
		hub:     h,
		ch:      make(chan callreq.Event, subscriptionBuffer),
		partyID: partyID,
	}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.byParty[partyID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.byParty[partyID] = subs
	}
	subs[sub] = struct{}{}

	return sub
}

// SubscribeAll yields every event regardless of addressee. Used by bridges
// that do their own per-party routing, such as the websocket push layer.
func (h *Hub) SubscribeAll() *Subscription {
	sub := &Subscription{
		hub:       h,
		ch:        make(chan callreq.Event, subscriptionBuffer),
		allEvents: true,
	}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[sub] = struct{}{}

	return sub
}

func (s *Subscription) Close() {
	s.hub.unsubscribe(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// trySend delivers ev unless the subscription is closed or its buffer is
// full. The mutex orders sends against Close so a concurrent unsubscribe
// never sees a send on the closed channel. Returns false only on a full
// buffer.
func (s *Subscription) trySend(ev callreq.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.allEvents {
		delete(h.all, s)
		return
	}
	if subs, ok := h.byParty[s.partyID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.byParty, s.partyID)
		}
	}
}

func (h *Hub) Publish(ev callreq.Event) {
	parties := eventParties(ev)

	h.mu.Lock()
	targets := make([]*Subscription, 0, 4)
	for _, partyID := range parties {
		for sub := range h.byParty[partyID] {
			targets = append(targets, sub)
		}
	}
	for sub := range h.all {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if !sub.trySend(ev) {
			h.logger.Warn("feed subscriber behind, event dropped",
				"kind", ev.Kind, "requestId", ev.Request.ID, "partyId", sub.partyID)
		}
	}
}

func eventParties(ev callreq.Event) []string {
	if ev.Kind == callreq.EventInsert {
		return []string{ev.Request.RecipientID}
	}
	return []string{ev.Request.RequesterID, ev.Request.RecipientID}
}
