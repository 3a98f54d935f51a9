// Package registry tracks which connections are subscribed to which logical
// channels and fans published events out to them. Three channel families
// exist: job rooms ("job:{id}"), personal channels ("user:{id}") and role
// broadcast channels ("role:clients", "role:professionals").
//
// The registry is process-local. A Bus injected at construction re-broadcasts
// every publish so subscribers on other instances are reached too.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelar/jobchat/pkg/bus"
	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/metrics"
	"github.com/avelar/jobchat/pkg/model"
)

func RoomChannel(jobID string) string  { return "job:" + jobID }
func UserChannel(userID string) string { return "user:" + userID }

func RoleChannel(role model.Role) string {
	return "role:" + string(role) + "s"
}

// Subscriber is a non-owning handle to one connection's outbound queue. The
// connection owns its socket; the registry only holds the handle and must
// drop it on disconnect.
type Subscriber interface {
	// Key uniquely identifies the connection.
	Key() string

	// TrySend queues an event without blocking. false means the outbound
	// buffer is full; the registry evicts the subscriber so one slow
	// consumer cannot stall fan-out.
	TrySend(event []byte) bool

	// Evict tells the connection it has been dropped by the registry.
	// Must be idempotent.
	Evict()
}

type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]Subscriber // channel -> key -> sub
	joined   map[string]map[string]struct{}   // key -> channels
	subs     map[string]Subscriber            // key -> sub

	bus bus.Bus
	log zerolog.Logger

	publishTimeout time.Duration
}

// New creates a registry backed by b for cross-instance fan-out. Pass the
// registry by reference to the transport and dispatcher; it is constructed
// once per process in main.
func New(b bus.Bus) *Registry {
	if b == nil {
		b = bus.Nop{}
	}
	return &Registry{
		channels:       make(map[string]map[string]Subscriber),
		joined:         make(map[string]map[string]struct{}),
		subs:           make(map[string]Subscriber),
		bus:            b,
		log:            logging.Component("registry"),
		publishTimeout: 5 * time.Second,
	}
}

// Start begins consuming remote envelopes from the bus, delivering them to
// local subscribers only (the origin instance already served its own).
func (r *Registry) Start(ctx context.Context) {
	r.bus.Start(ctx, func(env bus.Envelope) {
		r.deliverLocal(env.Channel, env.Event)
	})
}

// Subscribe adds the connection to a channel's membership set. Authorization
// is the caller's responsibility; the transport checks the access authorizer
// before joining a job room.
func (r *Registry) Subscribe(sub Subscriber, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channels[channel] == nil {
		r.channels[channel] = make(map[string]Subscriber)
	}
	r.channels[channel][sub.Key()] = sub

	if r.joined[sub.Key()] == nil {
		r.joined[sub.Key()] = make(map[string]struct{})
		r.subs[sub.Key()] = sub
	}
	r.joined[sub.Key()][channel] = struct{}{}
}

// Unsubscribe removes the connection from one channel.
func (r *Registry) Unsubscribe(sub Subscriber, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub.Key(), channel)
}

// Disconnect removes the connection from every channel it joined. Called on
// socket teardown so no dead handle leaks into the membership sets.
func (r *Registry) Disconnect(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channel := range r.joined[sub.Key()] {
		r.removeLocked(sub.Key(), channel)
	}
}

func (r *Registry) removeLocked(key, channel string) {
	if members, ok := r.channels[channel]; ok {
		delete(members, key)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
	if chans, ok := r.joined[key]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(r.joined, key)
			delete(r.subs, key)
		}
	}
}

// Publish fans event out to the channel's local subscribers and re-broadcasts
// it on the bus. At-most-once per subscriber, never blocking: a subscriber
// with a full buffer is evicted instead of awaited.
func (r *Registry) Publish(channel string, event []byte) {
	r.deliverLocal(channel, event)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.publishTimeout)
		defer cancel()
		if err := r.bus.Publish(ctx, bus.Envelope{Channel: channel, Event: event}); err != nil {
			r.log.Warn().Err(err).Str("channel", channel).Msg("bus publish failed; remote subscribers miss this event")
		}
	}()
}

func (r *Registry) deliverLocal(channel string, event []byte) {
	r.mu.RLock()
	var targets []Subscriber
	for _, sub := range r.channels[channel] {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	var slow []Subscriber
	for _, sub := range targets {
		if sub.TrySend(event) {
			metrics.EventsPublished.WithLabelValues(channelKind(channel)).Inc()
		} else {
			metrics.EventsDropped.Inc()
			slow = append(slow, sub)
		}
	}

	for _, sub := range slow {
		r.log.Warn().Str("subscriber", sub.Key()).Str("channel", channel).
			Msg("evicting slow subscriber")
		r.Disconnect(sub)
		sub.Evict()
	}
}

// LocalMembers reports how many local connections are subscribed to channel.
func (r *Registry) LocalMembers(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

func channelKind(channel string) string {
	switch {
	case strings.HasPrefix(channel, "job:"):
		return "room"
	case strings.HasPrefix(channel, "user:"):
		return "personal"
	case strings.HasPrefix(channel, "role:"):
		return "role"
	}
	return "other"
}
