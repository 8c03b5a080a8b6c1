package bus

import (
	"fmt"
	"sort"
	"sync"
)

// TransformFunc rewrites a payload as a message is forwarded through a
// route. It must not mutate its input; return a new map instead.
type TransformFunc func(payload map[string]any) map[string]any

// Route is a declarative forwarding rule: messages from Source carrying
// Event are forwarded to the "route:{Target}" topic when every condition
// passes, optionally rewriting the payload through Transform.
type Route struct {
	// ID uniquely identifies the route. Re-adding an existing ID
	// replaces the stored route (last write wins).
	ID string `json:"id"`

	// Source is the module whose messages this route considers.
	Source string `json:"source"`

	// Target is the module the forwarded message is handed to.
	Target string `json:"target"`

	// Event is the exact event name to match (no wildcards).
	Event string `json:"event"`

	// Conditions are ANDed field-level tests; all must pass.
	Conditions []Condition `json:"conditions,omitempty"`

	// Transform optionally rewrites the payload of the forwarded
	// message. Not serialised; declarative routes use MergeTransform.
	Transform TransformFunc `json:"-"`

	// Merge, when non-nil, is a declarative overlay deep-merged into the
	// payload on forward. Serialisable alternative to Transform; when
	// both are set Transform runs first, then the overlay is applied.
	Merge map[string]any `json:"merge,omitempty"`

	// Enabled gates the route without removing it.
	Enabled bool `json:"enabled"`
}

// Validate checks the route's registration invariants.
func (r Route) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRoute)
	case r.Source == "":
		return fmt.Errorf("%w: empty source", ErrInvalidRoute)
	case r.Target == "":
		return fmt.Errorf("%w: empty target", ErrInvalidRoute)
	case r.Event == "":
		return fmt.Errorf("%w: empty event", ErrInvalidRoute)
	}
	for i, c := range r.Conditions {
		if !validOperator(c.Operator) {
			return fmt.Errorf("%w: condition %d operator %q", ErrInvalidOperator, i, c.Operator)
		}
	}
	return nil
}

// matches reports whether the route participates in dispatch for a
// message: same source, same event, enabled, and every condition passes.
func (r Route) matches(msg Message) bool {
	if !r.Enabled || r.Source != msg.Source || r.Event != msg.Event {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Evaluate(msg.Payload) {
			return false
		}
	}
	return true
}

func validOperator(op Operator) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan:
		return true
	default:
		return false
	}
}

// routeTable is the CRUD store of routing rules, keyed by route ID.
// Dispatch reads a snapshot so handlers may add or remove routes
// mid-flight without affecting the message currently being processed.
type routeTable struct {
	mu     sync.RWMutex
	routes map[string]Route
}

func newRouteTable() *routeTable {
	return &routeTable{routes: make(map[string]Route)}
}

// add stores the route, replacing any existing route with the same ID.
func (t *routeTable) add(r Route) {
	t.mu.Lock()
	t.routes[r.ID] = r
	t.mu.Unlock()
}

// remove deletes a route by ID and reports whether it existed.
func (t *routeTable) remove(id string) (Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[id]
	if ok {
		delete(t.routes, id)
	}
	return r, ok
}

// get returns the route with the given ID.
func (t *routeTable) get(id string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[id]
	return r, ok
}

// snapshot returns a copy of all routes sorted by ID for deterministic
// iteration order during dispatch.
func (t *routeTable) snapshot() []Route {
	t.mu.RLock()
	routes := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		routes = append(routes, r)
	}
	t.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes
}
