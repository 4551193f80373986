package ime

import (
	"context"
	"fmt"

	"imebridge/internal/keycache"
)

// KeyForwarder sends physical host keys to the engine and keeps each one
// under a sequence id so the engine can ask for it to be replayed verbatim.
// It is safe for concurrent use.
type KeyForwarder struct {
	cache *keycache.Cache[KeyEvent]
	d     *dispatcher
}

func newKeyForwarder(capacity int, d *dispatcher) (*KeyForwarder, error) {
	if capacity <= 0 {
		capacity = keycache.DefaultCapacity
	}
	cache, err := keycache.New[KeyEvent](capacity)
	if err != nil {
		return nil, fmt.Errorf("key forwarder: %w", err)
	}
	return &KeyForwarder{cache: cache, d: d}, nil
}

// TranslateKey decides how a physical host key reaches the engine.
// Printable characters go as characters so shifted letters keep their case;
// tab and newline go as key symbols because the engine expects those.
// Keys with neither a character nor a known symbol are left to the host.
func TranslateKey(ev KeyEvent) (KeyInput, bool) {
	in := KeyInput{States: StatesFromMeta(ev.Meta), Up: ev.Up}
	switch {
	case ev.Unicode > 0 && ev.Unicode != '\t' && ev.Unicode != '\n':
		in.Unicode = ev.Unicode
	default:
		sym, ok := SymFromKeyCode(ev.Code)
		if !ok {
			return KeyInput{}, false
		}
		in.Sym = sym
	}
	return in, true
}

// Forward queues ev for the engine and reports whether it was taken. It
// must run where the reconciler runs so the key stays ordered behind
// earlier host calls.
func (k *KeyForwarder) Forward(ev KeyEvent) bool {
	in, ok := TranslateKey(ev)
	if !ok {
		return false
	}
	return k.send(ev, in)
}

func (k *KeyForwarder) send(ev KeyEvent, in KeyInput) bool {
	in.SequenceID = k.cache.Put(ev)
	queued := k.d.post("send-key", func(ctx context.Context, e Engine) error {
		return e.SendKey(ctx, in)
	})
	if !queued {
		k.cache.Replay(in.SequenceID)
	}
	return queued
}

// Replay removes and returns the event cached under id.
func (k *KeyForwarder) Replay(id int) (KeyEvent, bool) {
	ev, ok := k.cache.Replay(id)
	k.d.observer.KeyReplay(ok)
	return ev, ok
}

// Reset forgets every cached event and restarts ids at zero.
func (k *KeyForwarder) Reset() {
	k.cache.Reset()
}

// Cached returns the number of events waiting for a possible replay.
func (k *KeyForwarder) Cached() int {
	return k.cache.Len()
}
