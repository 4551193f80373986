package config

import (
	"cmp"
	"slices"
	"sync"
)

// Subscription keys. Each names one value a session reacts to.
const (
	KeyIgnoreSystemCursor = "input.ignore_system_cursor"
	KeyExpandKeypressArea = "keyboard.expand_keypress_area"
	KeyDisableAnimation   = "keyboard.disable_animation"
	KeyTheme              = "theme.name"
)

var keyValues = map[string]func(*Config) any{
	KeyIgnoreSystemCursor: func(c *Config) any { return c.Input.IgnoreSystemCursor },
	KeyExpandKeypressArea: func(c *Config) any { return c.Keyboard.ExpandKeypressArea },
	KeyDisableAnimation:   func(c *Config) any { return c.Keyboard.DisableAnimation },
	KeyTheme:              func(c *Config) any { return c.Theme.Name },
}

// Keys returns every key that can be subscribed to.
func Keys() []string {
	return []string{KeyIgnoreSystemCursor, KeyExpandKeypressArea, KeyDisableAnimation, KeyTheme}
}

// Changed reports whether the value behind key differs between old and
// new. A nil old config counts as a change.
func Changed(key string, old, new *Config) bool {
	value, ok := keyValues[key]
	if !ok || new == nil {
		return false
	}
	if old == nil {
		return true
	}
	return value(old) != value(new)
}

type subscriber struct {
	key string
	fn  func(old, new *Config)
}

// Registry fans configuration changes out to per-key subscribers. A
// session creates one when it starts and closes it when it ends.
type Registry struct {
	mu     sync.Mutex
	subs   map[uint64]subscriber
	nextID uint64
	closed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint64]subscriber)}
}

// Subscribe calls fn whenever the value behind key changes. Subscribing to
// an unknown key or to a closed registry is a no-op.
func (r *Registry) Subscribe(key string, fn func(old, new *Config)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := keyValues[key]; !ok || r.closed || fn == nil {
		return func() {}
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = subscriber{key: key, fn: fn}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Notify invokes the subscribers whose key changed between old and new,
// in subscription order. Callbacks run on the caller's goroutine without
// the registry lock held.
func (r *Registry) Notify(old, new *Config) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	type call struct {
		id uint64
		fn func(old, new *Config)
	}
	var calls []call
	for id, s := range r.subs {
		if Changed(s.key, old, new) {
			calls = append(calls, call{id, s.fn})
		}
	}
	r.mu.Unlock()

	slices.SortFunc(calls, func(a, b call) int { return cmp.Compare(a.id, b.id) })
	for _, c := range calls {
		c.fn(old, new)
	}
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close drops every subscription. Later Notify calls do nothing.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	clear(r.subs)
}
