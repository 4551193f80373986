package ime

import (
	"context"
	"errors"
	"fmt"

	"imebridge/internal/composing"
)

// Errors returned by collaborators.
var (
	// ErrEngineUnavailable means there is no live engine connection.
	// Work that needs the engine is dropped, not retried.
	ErrEngineUnavailable = errors.New("ime: engine unavailable")

	// ErrSessionClosed is returned by Session methods after Close.
	ErrSessionClosed = errors.New("ime: session closed")

	// ErrSessionNotStarted is returned by Session methods before Start.
	ErrSessionNotStarted = errors.New("ime: session not started")
)

// InputMethod describes one input method enabled in the engine.
type InputMethod struct {
	ID       string
	Name     string
	Language string
	Icon     string
}

// Engine is the operation surface of the text engine. Every method may
// block until the engine has processed the request.
type Engine interface {
	// SendKey forwards a key to the engine.
	SendKey(ctx context.Context, key KeyInput) error
	// MoveCursor moves the engine cursor inside the preedit, counted in
	// codepoints from the start of the preedit.
	MoveCursor(ctx context.Context, pos int) error
	// Focus tells the engine whether the current field has focus.
	Focus(ctx context.Context, focused bool) error
	// Reset drops the engine's composition state.
	Reset(ctx context.Context) error
	// IsEmpty reports whether the engine holds no composition state.
	IsEmpty(ctx context.Context) (bool, error)
	// Activate selects the input context for a client application.
	Activate(ctx context.Context, uid int, pkg string) error
	// ActivateIME switches the active input method.
	ActivateIME(ctx context.Context, id string) error
	// Deactivate releases the input context of a client application.
	Deactivate(ctx context.Context, uid int) error
	// SetCapabilityFlags describes the focused field.
	SetCapabilityFlags(ctx context.Context, flags CapabilityFlags) error
	// EnabledInputMethods lists the input methods the user enabled.
	EnabledInputMethods(ctx context.Context) ([]InputMethod, error)
}

// Connection hands out the engine once it is ready and carries the
// engine's event stream.
type Connection interface {
	// Ready blocks until the engine can take requests. It returns
	// ErrEngineUnavailable when there is no connection at all.
	Ready(ctx context.Context) (Engine, error)
	// Events delivers engine events in order. The channel is closed when
	// the connection goes away.
	Events() <-chan Event
}

// Event is a notification from the engine.
type Event interface {
	eventName() string
}

// CommitEvent finalizes text into the field. Cursor is the caret position
// relative to the start of Text, or composing.NoCursor for the end.
type CommitEvent struct {
	Text   string
	Cursor int
}

// EngineKeyEvent asks for a key to be delivered to the field.
type EngineKeyEvent struct {
	Sym        KeySym
	Unicode    rune
	States     KeyStates
	Up         bool
	SequenceID int
}

// Virtual reports whether the key came from the on-screen keyboard.
func (e EngineKeyEvent) Virtual() bool {
	return e.States.Has(StateVirtual)
}

// PreeditEvent replaces the text under composition.
type PreeditEvent struct {
	Text composing.Text
}

// DeleteSurroundingEvent deletes codepoints around the cursor.
type DeleteSurroundingEvent struct {
	Before int
	After  int
}

// InputMethodEvent reports that the engine switched input method.
type InputMethodEvent struct {
	ID string
}

func (CommitEvent) eventName() string            { return "commit" }
func (EngineKeyEvent) eventName() string         { return "key" }
func (PreeditEvent) eventName() string           { return "preedit" }
func (DeleteSurroundingEvent) eventName() string { return "delete-surrounding" }
func (InputMethodEvent) eventName() string       { return "input-method" }

func (e CommitEvent) String() string {
	return fmt.Sprintf("commit(len=%d, cursor=%d)", composing.UTF16Len(e.Text), e.Cursor)
}

func (e EngineKeyEvent) String() string {
	return fmt.Sprintf("key(sym=%s, unicode=%d, states=%#x, up=%t, seq=%d)", e.Sym, e.Unicode, uint32(e.States), e.Up, e.SequenceID)
}
