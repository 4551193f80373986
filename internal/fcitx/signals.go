package fcitx

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/godbus/dbus/v5"

	"imebridge/internal/composing"
	"imebridge/internal/ime"
)

// formattedRun is one (text, format) pair of UpdateFormattedPreedit.
type formattedRun struct {
	Text   string
	Format int32
}

// decodeSignal translates an input context signal. Signals with no ime
// counterpart decode to nil.
func decodeSignal(sig *dbus.Signal) (ime.Event, error) {
	member, ok := strings.CutPrefix(sig.Name, InputContextInterface+".")
	if !ok {
		return nil, nil
	}
	switch member {
	case "CommitString":
		var text string
		if err := dbus.Store(sig.Body, &text); err != nil {
			return nil, err
		}
		return ime.CommitEvent{Text: text, Cursor: composing.NoCursor}, nil

	case "UpdateFormattedPreedit":
		var runs []formattedRun
		var cursor int32
		if err := dbus.Store(sig.Body, &runs, &cursor); err != nil {
			return nil, err
		}
		return ime.PreeditEvent{Text: preeditText(runs, int(cursor))}, nil

	case "DeleteSurroundingText":
		var offset int32
		var n uint32
		if err := dbus.Store(sig.Body, &offset, &n); err != nil {
			return nil, err
		}
		if offset > 0 {
			return nil, fmt.Errorf("delete surrounding at positive offset %d", offset)
		}
		before := int(-offset)
		return ime.DeleteSurroundingEvent{Before: before, After: max(int(n)-before, 0)}, nil

	case "ForwardKey":
		var sym, states uint32
		var up bool
		if err := dbus.Store(sig.Body, &sym, &states, &up); err != nil {
			return nil, err
		}
		return ime.EngineKeyEvent{
			Sym:        ime.KeySym(sym),
			Unicode:    keyRune(ime.KeySym(sym)),
			States:     ime.KeyStates(states),
			Up:         up,
			SequenceID: -1,
		}, nil

	case "CurrentIM":
		var name, uniqueName, lang string
		if err := dbus.Store(sig.Body, &name, &uniqueName, &lang); err != nil {
			return nil, err
		}
		return ime.InputMethodEvent{ID: uniqueName}, nil
	}
	return nil, nil
}

// keyRune is the character a forwarded key stands for. Editing keys map to
// their control characters.
func keyRune(sym ime.KeySym) rune {
	switch sym {
	case ime.SymBackSpace:
		return '\b'
	case ime.SymReturn:
		return '\r'
	case ime.SymTab:
		return '\t'
	}
	return sym.Rune()
}

// preeditText builds a preedit from fcitx runs. fcitx reports the cursor as
// a byte offset into the concatenated text; it becomes a UTF-16 offset.
func preeditText(runs []formattedRun, cursor int) composing.Text {
	text := composing.Text{Cursor: composing.NoCursor}
	var all strings.Builder
	for _, r := range runs {
		if r.Text == "" {
			continue
		}
		text.Runs = append(text.Runs, composing.Run{Text: r.Text, Format: composing.Format(r.Format)})
		all.WriteString(r.Text)
	}
	if cursor >= 0 && len(text.Runs) > 0 {
		text.Cursor = utf16Offset(all.String(), cursor)
	}
	return text
}

// utf16Offset converts a byte offset into s to UTF-16 code units. An offset
// inside a multi-byte sequence counts the whole character.
func utf16Offset(s string, byteOff int) int {
	if byteOff > len(s) {
		byteOff = len(s)
	}
	n := 0
	for i := 0; i < byteOff; {
		r, size := utf8.DecodeRuneInString(s[i:])
		n += composing.UTF16Len(string(r))
		i += size
	}
	return n
}
