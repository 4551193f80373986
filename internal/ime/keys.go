package ime

import "fmt"

// KeyStates is the engine's modifier bit set (X11 layout).
type KeyStates uint32

// Engine modifier states.
const (
	StateShift    KeyStates = 1 << 0
	StateCapsLock KeyStates = 1 << 1
	StateCtrl     KeyStates = 1 << 2
	StateAlt      KeyStates = 1 << 3
	StateNumLock  KeyStates = 1 << 4
	StateSuper    KeyStates = 1 << 6
	StateVirtual  KeyStates = 1 << 29
	StateRepeat   KeyStates = 1 << 31
)

// Host meta state flags.
const (
	MetaShiftOn     = 0x1
	MetaAltOn       = 0x2
	MetaAltLeftOn   = 0x10
	MetaShiftLeftOn = 0x40
	MetaCtrlOn      = 0x1000
	MetaCtrlLeftOn  = 0x2000
	MetaMetaOn      = 0x10000
	MetaMetaLeftOn  = 0x20000
	MetaCapsLockOn  = 0x100000
	MetaNumLockOn   = 0x200000
)

// Has reports whether all bits of f are set.
func (s KeyStates) Has(f KeyStates) bool {
	return s&f == f
}

// MetaState converts engine modifiers to host meta state.
func (s KeyStates) MetaState() int {
	meta := 0
	if s.Has(StateAlt) {
		meta |= MetaAltOn | MetaAltLeftOn
	}
	if s.Has(StateCtrl) {
		meta |= MetaCtrlOn | MetaCtrlLeftOn
	}
	if s.Has(StateShift) {
		meta |= MetaShiftOn | MetaShiftLeftOn
	}
	if s.Has(StateCapsLock) {
		meta |= MetaCapsLockOn
	}
	if s.Has(StateNumLock) {
		meta |= MetaNumLockOn
	}
	if s.Has(StateSuper) {
		meta |= MetaMetaOn | MetaMetaLeftOn
	}
	return meta
}

// StatesFromMeta converts host meta state to engine modifiers.
func StatesFromMeta(meta int) KeyStates {
	var s KeyStates
	if meta&MetaAltOn != 0 {
		s |= StateAlt
	}
	if meta&MetaCtrlOn != 0 {
		s |= StateCtrl
	}
	if meta&MetaShiftOn != 0 {
		s |= StateShift
	}
	if meta&MetaCapsLockOn != 0 {
		s |= StateCapsLock
	}
	if meta&MetaNumLockOn != 0 {
		s |= StateNumLock
	}
	if meta&MetaMetaOn != 0 {
		s |= StateSuper
	}
	return s
}

// Host key codes used by the reconciler.
const (
	KeyCodeUnknown    = 0
	KeyCode0          = 7
	KeyCode9          = 16
	KeyCodeDPadUp     = 19
	KeyCodeDPadDown   = 20
	KeyCodeDPadLeft   = 21
	KeyCodeDPadRight  = 22
	KeyCodeA          = 29
	KeyCodeZ          = 54
	KeyCodeAltLeft    = 57
	KeyCodeShiftLeft  = 59
	KeyCodeTab        = 61
	KeyCodeSpace      = 62
	KeyCodeEnter      = 66
	KeyCodeDel        = 67
	KeyCodePageUp     = 92
	KeyCodePageDown   = 93
	KeyCodeEscape     = 111
	KeyCodeForwardDel = 112
	KeyCodeCtrlLeft   = 113
	KeyCodeMoveHome   = 122
	KeyCodeMoveEnd    = 123
	KeyCodeInsert     = 124
	KeyCodeF1         = 131
	KeyCodeF12        = 142
)

// KeySym is an X11 key symbol as understood by the engine.
type KeySym uint32

// Key symbols with a dedicated host key code.
const (
	SymSpace     KeySym = 0x0020
	SymBackSpace KeySym = 0xff08
	SymTab       KeySym = 0xff09
	SymReturn    KeySym = 0xff0d
	SymEscape    KeySym = 0xff1b
	SymHome      KeySym = 0xff50
	SymLeft      KeySym = 0xff51
	SymUp        KeySym = 0xff52
	SymRight     KeySym = 0xff53
	SymDown      KeySym = 0xff54
	SymPageUp    KeySym = 0xff55
	SymPageDown  KeySym = 0xff56
	SymEnd       KeySym = 0xff57
	SymInsert    KeySym = 0xff63
	SymF1        KeySym = 0xffbe
	SymF12       KeySym = 0xffc9
	SymShiftL    KeySym = 0xffe1
	SymControlL  KeySym = 0xffe3
	SymAltL      KeySym = 0xffe9
	SymDelete    KeySym = 0xffff
)

var symToKeyCode = map[KeySym]int{
	SymSpace:     KeyCodeSpace,
	SymBackSpace: KeyCodeDel,
	SymTab:       KeyCodeTab,
	SymReturn:    KeyCodeEnter,
	SymEscape:    KeyCodeEscape,
	SymHome:      KeyCodeMoveHome,
	SymLeft:      KeyCodeDPadLeft,
	SymUp:        KeyCodeDPadUp,
	SymRight:     KeyCodeDPadRight,
	SymDown:      KeyCodeDPadDown,
	SymPageUp:    KeyCodePageUp,
	SymPageDown:  KeyCodePageDown,
	SymEnd:       KeyCodeMoveEnd,
	SymInsert:    KeyCodeInsert,
	SymShiftL:    KeyCodeShiftLeft,
	SymControlL:  KeyCodeCtrlLeft,
	SymAltL:      KeyCodeAltLeft,
	SymDelete:    KeyCodeForwardDel,
}

var keyCodeToSym = func() map[int]KeySym {
	m := make(map[int]KeySym, len(symToKeyCode))
	for sym, code := range symToKeyCode {
		m[code] = sym
	}
	return m
}()

// KeyCode returns the host key code for s, or KeyCodeUnknown.
func (s KeySym) KeyCode() int {
	switch {
	case s >= 'a' && s <= 'z':
		return KeyCodeA + int(s-'a')
	case s >= 'A' && s <= 'Z':
		return KeyCodeA + int(s-'A')
	case s >= '0' && s <= '9':
		return KeyCode0 + int(s-'0')
	case s >= SymF1 && s <= SymF12:
		return KeyCodeF1 + int(s-SymF1)
	}
	if code, ok := symToKeyCode[s]; ok {
		return code
	}
	return KeyCodeUnknown
}

// SymFromKeyCode returns the key symbol for a host key code.
func SymFromKeyCode(code int) (KeySym, bool) {
	switch {
	case code >= KeyCodeA && code <= KeyCodeZ:
		return KeySym('a' + code - KeyCodeA), true
	case code >= KeyCode0 && code <= KeyCode9:
		return KeySym('0' + code - KeyCode0), true
	case code >= KeyCodeF1 && code <= KeyCodeF12:
		return SymF1 + KeySym(code-KeyCodeF1), true
	}
	sym, ok := keyCodeToSym[code]
	return sym, ok
}

// SymFromRune returns the key symbol for a printable character.
func SymFromRune(r rune) KeySym {
	if (r >= 0x20 && r <= 0x7e) || (r >= 0xa0 && r <= 0xff) {
		return KeySym(r)
	}
	return KeySym(0x01000000 + r)
}

// Rune returns the character a key symbol stands for, or 0.
func (s KeySym) Rune() rune {
	switch {
	case s >= 0x20 && s <= 0x7e, s >= 0xa0 && s <= 0xff:
		return rune(s)
	case s >= 0x01000000 && s <= 0x0110ffff:
		return rune(s - 0x01000000)
	}
	return 0
}

func (s KeySym) String() string {
	return fmt.Sprintf("0x%04x", uint32(s))
}

// KeyEvent is a host key event, either forwarded from the host or
// synthesized for it. Time is in milliseconds on the host's uptime clock.
type KeyEvent struct {
	Code    int
	Meta    int
	Up      bool
	Unicode rune
	Time    int64
}

// KeyInput is a key sent to the engine. Exactly one of Sym and Unicode is
// set. SequenceID lets the engine ask for the original host event back.
type KeyInput struct {
	Sym        KeySym
	Unicode    rune
	States     KeyStates
	Up         bool
	SequenceID int
}

// Symbol returns the key symbol the engine should see.
func (k KeyInput) Symbol() KeySym {
	if k.Unicode > 0 {
		return SymFromRune(k.Unicode)
	}
	return k.Sym
}
