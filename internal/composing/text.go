// Package composing holds the provisional text the engine is composing and
// the range it occupies in the host field.
//
// Host positions are counted in UTF-16 code units, the unit Android text
// fields report selections in. The engine counts its cursor in codepoints,
// so Text converts between the two.
package composing

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Format is a bit set of styles attached to a run of preedit text.
type Format uint32

// Preedit format flags as reported by the engine.
const (
	FormatNone       Format = 0
	FormatUnderline  Format = 1 << 3
	FormatHighlight  Format = 1 << 4
	FormatDontCommit Format = 1 << 5
	FormatBold       Format = 1 << 6
	FormatStrike     Format = 1 << 7
	FormatItalic     Format = 1 << 8
)

// Run is a span of preedit text sharing one format.
type Run struct {
	Text   string
	Format Format
}

// NoCursor marks a preedit whose cursor was not specified by the engine.
const NoCursor = -1

// Text is styled preedit text plus the engine's cursor within it, in UTF-16
// code units. A Cursor of NoCursor means the caret belongs at the end.
type Text struct {
	Runs   []Run
	Cursor int
}

// Empty is the preedit with no runs.
var Empty = Text{Cursor: NoCursor}

// Plain returns unstyled text with the cursor at the end.
func Plain(s string) Text {
	if s == "" {
		return Empty
	}
	return Text{Runs: []Run{{Text: s}}, Cursor: NoCursor}
}

// String returns the concatenated run text.
func (t Text) String() string {
	switch len(t.Runs) {
	case 0:
		return ""
	case 1:
		return t.Runs[0].Text
	}
	var b strings.Builder
	for _, r := range t.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Len returns the length of the text in UTF-16 code units.
func (t Text) Len() int {
	n := 0
	for _, r := range t.Runs {
		n += UTF16Len(r.Text)
	}
	return n
}

// IsEmpty reports whether the text has no characters.
func (t Text) IsEmpty() bool {
	for _, r := range t.Runs {
		if r.Text != "" {
			return false
		}
	}
	return true
}

// SpanEqual reports whether t and other hold the same runs with the same
// formats. The cursor is not compared.
func (t Text) SpanEqual(other Text) bool {
	if len(t.Runs) != len(other.Runs) {
		return false
	}
	for i := range t.Runs {
		if t.Runs[i] != other.Runs[i] {
			return false
		}
	}
	return true
}

// CodePointCountUntil converts a UTF-16 offset into the text into a
// codepoint count. Offsets past the end count the whole text; an offset
// that splits a surrogate pair counts the pair.
func (t Text) CodePointCountUntil(pos int) int {
	if pos <= 0 {
		return 0
	}
	units, count := 0, 0
	for _, r := range t.Runs {
		for _, c := range r.Text {
			if units >= pos {
				return count
			}
			units += utf16.RuneLen(c)
			count++
		}
	}
	return count
}

// UTF16Len returns the length of s in UTF-16 code units. Invalid bytes count
// as one replacement character each.
func UTF16Len(s string) int {
	n := 0
	for len(s) > 0 {
		c, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		n += utf16.RuneLen(c)
	}
	return n
}
