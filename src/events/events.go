// Package events fans change notifications out to subscribed sessions.
package events

import (
	"errors"
	"strings"
	"sync"

	"jsondb/src/engine"
	"jsondb/src/metrics"

	"go.uber.org/zap"
)

// Name identifies an event kind.
type Name string

const (
	DBCreate   Name = "db_create"
	DBDelete   Name = "db_delete"
	CollCreate Name = "coll_create"
	CollDelete Name = "coll_delete"
	DocInsert  Name = "doc_insert"
	DocUpdate  Name = "doc_update"
	DocDelete  Name = "doc_delete"
)

var known = map[Name]struct{}{
	DBCreate: {}, DBDelete: {}, CollCreate: {}, CollDelete: {},
	DocInsert: {}, DocUpdate: {}, DocDelete: {},
}

// ErrNotRegistered is returned for subscribers the hub does not know.
var ErrNotRegistered = errors.New("subscriber is not registered")

// Parse resolves an event name case-insensitively.
func Parse(name string) (Name, bool) {
	n := Name(strings.ToLower(name))
	_, ok := known[n]
	return n, ok
}

// Event is one emitted notification.
type Event struct {
	Name Name
	Data interface{}
}

type DatabasePayload struct {
	Name string `json:"name"`
}

type CollectionPayload struct {
	DB   string `json:"db"`
	Name string `json:"name"`
}

type InsertPayload struct {
	DB         string          `json:"db"`
	Collection string          `json:"collection"`
	Doc        engine.Document `json:"doc"`
}

type UpdatePayload struct {
	DB         string          `json:"db"`
	Collection string          `json:"collection"`
	Changes    []engine.Change `json:"changes"`
}

type DeletePayload struct {
	DB         string            `json:"db"`
	Collection string            `json:"collection"`
	Docs       []engine.Document `json:"docs"`
}

// Subscriber receives events. SendEvent is only ever called from the
// subscriber's own mailbox goroutine.
type Subscriber interface {
	ID() string
	SendEvent(name string, data interface{}) error
}

type mailbox struct {
	sub    Subscriber
	names  map[Name]struct{}
	events chan Event
	quit   chan struct{}
}

// Hub tracks subscriptions and delivers events. Emit never blocks: each
// subscriber has a bounded mailbox and a full mailbox drops the event.
type Hub struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	size      int
	logger    *zap.SugaredLogger
	wg        sync.WaitGroup
}

// NewHub creates a hub whose mailboxes hold up to size events.
func NewHub(size int, logger *zap.SugaredLogger) *Hub {
	if size < 1 {
		size = 1
	}
	return &Hub{
		mailboxes: make(map[string]*mailbox),
		size:      size,
		logger:    logger,
	}
}

// Register adds sub with an empty subscription set. Registering twice is a
// no-op.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.mailboxes[sub.ID()]; ok {
		return
	}
	mb := &mailbox{
		sub:    sub,
		names:  make(map[Name]struct{}),
		events: make(chan Event, h.size),
		quit:   make(chan struct{}),
	}
	h.mailboxes[sub.ID()] = mb

	h.wg.Add(1)
	go h.deliver(mb)
}

// Unregister removes sub and stops its mailbox. Undelivered events are
// discarded.
func (h *Hub) Unregister(sub Subscriber) {
	h.mu.Lock()
	mb, ok := h.mailboxes[sub.ID()]
	if ok {
		delete(h.mailboxes, sub.ID())
	}
	h.mu.Unlock()

	if ok {
		close(mb.quit)
	}
}

// Subscribe adds names to sub's subscription set. Unknown names are ignored.
func (h *Hub) Subscribe(sub Subscriber, names []string) error {
	return h.update(sub, names, func(set map[Name]struct{}, n Name) { set[n] = struct{}{} })
}

// Unsubscribe removes names from sub's subscription set. Unknown names are
// ignored.
func (h *Hub) Unsubscribe(sub Subscriber, names []string) error {
	return h.update(sub, names, func(set map[Name]struct{}, n Name) { delete(set, n) })
}

func (h *Hub) update(sub Subscriber, names []string, fn func(map[Name]struct{}, Name)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	mb, ok := h.mailboxes[sub.ID()]
	if !ok {
		return ErrNotRegistered
	}
	for _, raw := range names {
		n, ok := Parse(raw)
		if !ok {
			h.logger.Debugf("Ignoring unknown event name %q", raw)
			continue
		}
		fn(mb.names, n)
	}
	return nil
}

// Subscriptions returns the event names sub is subscribed to.
func (h *Hub) Subscriptions(sub Subscriber) []Name {
	h.mu.RLock()
	defer h.mu.RUnlock()

	mb, ok := h.mailboxes[sub.ID()]
	if !ok {
		return nil
	}
	out := make([]Name, 0, len(mb.names))
	for n := range mb.names {
		out = append(out, n)
	}
	return out
}

// Emit queues the event for every subscriber of name.
func (h *Hub) Emit(name Name, data interface{}) {
	if _, ok := known[name]; !ok {
		h.logger.Warnf("Dropping unknown event %q", name)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	ev := Event{Name: name, Data: data}
	for id, mb := range h.mailboxes {
		if _, ok := mb.names[name]; !ok {
			continue
		}
		select {
		case mb.events <- ev:
		default:
			metrics.EventsDropped.WithLabelValues(string(name)).Inc()
			h.logger.Warnw("Subscriber mailbox full, dropping event", "subscriber", id, "event", name)
		}
	}
}

// EmitAll emits events in order.
func (h *Hub) EmitAll(evs []Event) {
	for _, ev := range evs {
		h.Emit(ev.Name, ev.Data)
	}
}

func (h *Hub) deliver(mb *mailbox) {
	defer h.wg.Done()
	for {
		select {
		case ev := <-mb.events:
			if err := mb.sub.SendEvent(string(ev.Name), ev.Data); err != nil {
				h.logger.Debugw("Failed to deliver event", "subscriber", mb.sub.ID(), "event", ev.Name, "error", err)
				continue
			}
			metrics.EventsDelivered.WithLabelValues(string(ev.Name)).Inc()
		case <-mb.quit:
			return
		}
	}
}

// Close unregisters every subscriber and waits for the mailbox goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	mbs := h.mailboxes
	h.mailboxes = make(map[string]*mailbox)
	h.mu.Unlock()

	for _, mb := range mbs {
		close(mb.quit)
	}
	h.wg.Wait()
}
