package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Handler consumes a message delivered by the bus. A non-nil error is
// isolated from sibling handlers and reported through the observation
// sink; it never aborts delivery to other subscribers.
type Handler func(msg Message) error

// Subscription identifies one registered handler on one topic or
// pattern. It is the handle passed to Unsubscribe.
type Subscription struct {
	id      uint64
	topic   string
	pattern bool
	handler Handler
}

// Topic returns the topic or pattern the subscription is registered on.
func (s *Subscription) Topic() string { return s.topic }

// IsPattern reports whether the subscription is a wildcard pattern.
func (s *Subscription) IsPattern() bool { return s.pattern }

// PatternOption configures a pattern subscription. Reserved for future
// use; no options are defined today.
type PatternOption func(*patternSettings)

type patternSettings struct{}

// subscriptionRegistry holds direct-topic and pattern-topic handler
// sets. A topic or pattern entry is pruned as soon as its last handler
// is removed.
type subscriptionRegistry struct {
	mu       sync.RWMutex
	topics   map[string]map[*Subscription]struct{}
	patterns map[string]*patternEntry
	nextID   atomic.Uint64
}

// patternEntry caches the split pattern segments alongside its handlers
// so dispatch does not re-split the pattern per message.
type patternEntry struct {
	segments []string
	subs     map[*Subscription]struct{}
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		topics:   make(map[string]map[*Subscription]struct{}),
		patterns: make(map[string]*patternEntry),
	}
}

// subscribe registers a handler for an exact topic.
func (r *subscriptionRegistry) subscribe(topic string, h Handler) *Subscription {
	sub := &Subscription{id: r.nextID.Add(1), topic: topic, handler: h}

	r.mu.Lock()
	set, ok := r.topics[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.topics[topic] = set
	}
	set[sub] = struct{}{}
	r.mu.Unlock()

	return sub
}

// subscribePattern registers a handler for a wildcard pattern.
func (r *subscriptionRegistry) subscribePattern(pattern string, h Handler, opts ...PatternOption) *Subscription {
	var settings patternSettings
	for _, opt := range opts {
		opt(&settings)
	}

	sub := &Subscription{id: r.nextID.Add(1), topic: pattern, pattern: true, handler: h}

	r.mu.Lock()
	entry, ok := r.patterns[pattern]
	if !ok {
		entry = &patternEntry{
			segments: strings.Split(pattern, "."),
			subs:     make(map[*Subscription]struct{}),
		}
		r.patterns[pattern] = entry
	}
	entry.subs[sub] = struct{}{}
	r.mu.Unlock()

	return sub
}

// unsubscribe removes a subscription, deleting the topic or pattern
// entry when the last handler goes.
func (r *subscriptionRegistry) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.pattern {
		entry, ok := r.patterns[sub.topic]
		if !ok {
			return
		}
		delete(entry.subs, sub)
		if len(entry.subs) == 0 {
			delete(r.patterns, sub.topic)
		}
		return
	}

	set, ok := r.topics[sub.topic]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(r.topics, sub.topic)
	}
}

// handlersFor returns a stable snapshot of the subscriptions registered
// for the exact topic. Handlers mutating the registry mid-dispatch
// affect subsequent messages only.
func (r *subscriptionRegistry) handlersFor(topic string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.topics[topic]
	if !ok {
		return nil
	}
	subs := make([]*Subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	return subs
}

// patternHandlersFor returns a snapshot of the subscriptions whose
// pattern matches the topic at fixed arity.
func (r *subscriptionRegistry) patternHandlersFor(topic string) []*Subscription {
	topicSegs := strings.Split(topic, ".")

	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []*Subscription
	for _, entry := range r.patterns {
		if !matchSegments(topicSegs, entry.segments) {
			continue
		}
		for sub := range entry.subs {
			subs = append(subs, sub)
		}
	}
	return subs
}

// matchSegments is MatchTopic over pre-split segments.
func matchSegments(topicSegs, patternSegs []string) bool {
	if len(topicSegs) != len(patternSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if seg != Wildcard && seg != topicSegs[i] {
			return false
		}
	}
	return true
}
