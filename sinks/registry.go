package sinks

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/timzifer/vedirect/channels"
)

// Registry dispatches readings to the sinks registered for their channel and
// to sinks registered for every channel. Readings of channels outside the
// active set, or without any sink, are dropped.
type Registry struct {
	mu       sync.RWMutex
	byCh     map[channels.Channel][]Sink
	all      []Sink
	active   map[channels.Channel]struct{}
	dropped  atomic.Uint64
	received atomic.Uint64
}

// NewRegistry returns an empty registry with every channel active.
func NewRegistry() *Registry {
	return &Registry{byCh: make(map[channels.Channel][]Sink)}
}

// Register attaches s to ch.
func (r *Registry) Register(ch channels.Channel, s Sink) error {
	if ch == "" {
		return fmt.Errorf("sinks: channel is required")
	}
	if s == nil {
		return fmt.Errorf("sinks: channel %s: sink is nil", ch)
	}
	r.mu.Lock()
	r.byCh[ch] = append(r.byCh[ch], s)
	r.mu.Unlock()
	return nil
}

// RegisterAll attaches s to every channel.
func (r *Registry) RegisterAll(s Sink) {
	if s == nil {
		return
	}
	r.mu.Lock()
	r.all = append(r.all, s)
	r.mu.Unlock()
}

// Restrict limits dispatch to chs. An empty list activates every channel.
func (r *Registry) Restrict(chs []channels.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(chs) == 0 {
		r.active = nil
		return
	}
	r.active = make(map[channels.Channel]struct{}, len(chs))
	for _, ch := range chs {
		r.active[ch] = struct{}{}
	}
}

// Active reports whether readings of ch are dispatched.
func (r *Registry) Active(ch channels.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked(ch)
}

func (r *Registry) activeLocked(ch channels.Channel) bool {
	if r.active == nil {
		return true
	}
	_, ok := r.active[ch]
	return ok
}

// Publish implements Sink and vedirect.Publisher.
func (r *Registry) Publish(reading channels.Reading) {
	r.received.Add(1)
	r.mu.RLock()
	if !r.activeLocked(reading.Channel) {
		r.mu.RUnlock()
		r.dropped.Add(1)
		return
	}
	targets := make([]Sink, 0, len(r.byCh[reading.Channel])+len(r.all))
	targets = append(targets, r.byCh[reading.Channel]...)
	targets = append(targets, r.all...)
	r.mu.RUnlock()

	if len(targets) == 0 {
		r.dropped.Add(1)
		return
	}
	for _, s := range targets {
		s.Publish(reading)
	}
}

// Dropped returns how many readings reached no sink.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}

// Received returns how many readings were published to the registry.
func (r *Registry) Received() uint64 {
	return r.received.Load()
}
