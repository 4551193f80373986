package ime

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imebridge/internal/cursor"
	"imebridge/internal/jobs"
)

func keyCalls(code, meta int, t int64) []string {
	return []string{
		fmt.Sprintf("SendKeyEvent(%d,down,meta=%#x,t=%d)", code, meta, t),
		fmt.Sprintf("SendKeyEvent(%d,up,meta=%#x,t=%d)", code, meta, t),
	}
}

func TestBackspace(t *testing.T) {
	surrounding := func(selStart, selEnd int) EditorInfo {
		info := textField(selStart, selEnd)
		info.PrivateImeOptions = DeleteSurroundingOption
		return info
	}

	tests := []struct {
		name    string
		info    EditorInfo
		want    []string
		pending []cursor.Range
	}{
		{
			name:    "null input type",
			info:    EditorInfo{InputType: TypeNull, PrivateImeOptions: DeleteSurroundingOption, InitialSelStart: 3, InitialSelEnd: 3},
			want:    keyCalls(KeyCodeDel, 0, 1000),
			pending: []cursor.Range{cursor.At(2)},
		},
		{
			name:    "no marker",
			info:    textField(3, 3),
			want:    keyCalls(KeyCodeDel, 0, 1000),
			pending: []cursor.Range{cursor.At(2)},
		},
		{
			name:    "marker",
			info:    surrounding(3, 3),
			want:    []string{"DeleteSurroundingText(1,0)"},
			pending: []cursor.Range{cursor.At(2)},
		},
		{
			name: "marker at start",
			info: surrounding(0, 0),
			want: keyCalls(KeyCodeDel, 0, 1000),
		},
		{
			name:    "marker with range",
			info:    surrounding(2, 5),
			want:    []string{"CommitText(,0)"},
			pending: []cursor.Range{cursor.At(2)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.start(tc.info)

			h.r.HandleEvent(EngineKeyEvent{Unicode: '\b', States: StateVirtual})

			assertCalls(t, tc.want, h.field.take())
			assert.Equal(t, tc.pending, h.r.Tracker().Pending())
		})
	}
}

func TestReturn(t *testing.T) {
	tests := []struct {
		name string
		info EditorInfo
		want []string
	}{
		{
			name: "null input type",
			info: EditorInfo{InputType: TypeNull},
			want: keyCalls(KeyCodeEnter, 0, 1000),
		},
		{
			name: "no enter action",
			info: EditorInfo{InputType: TypeClassText, ImeOptions: FlagNoEnterAction | ActionSend},
			want: []string{"CommitText(\n,1)"},
		},
		{
			name: "custom label",
			info: EditorInfo{InputType: TypeClassText, ActionLabel: "Post", ActionID: 42},
			want: []string{"PerformEditorAction(42)"},
		},
		{
			name: "label without id",
			info: EditorInfo{InputType: TypeClassText, ActionLabel: "Post", ImeOptions: ActionGo},
			want: []string{"PerformEditorAction(2)"},
		},
		{
			name: "unspecified",
			info: EditorInfo{InputType: TypeClassText},
			want: []string{"CommitText(\n,1)"},
		},
		{
			name: "none",
			info: EditorInfo{InputType: TypeClassText, ImeOptions: ActionNone},
			want: []string{"CommitText(\n,1)"},
		},
		{
			name: "search",
			info: EditorInfo{InputType: TypeClassText, ImeOptions: ActionSearch},
			want: []string{"PerformEditorAction(3)"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.start(tc.info)

			h.r.HandleEvent(EngineKeyEvent{Unicode: '\r', States: StateVirtual})

			assertCalls(t, tc.want, h.field.take())
		})
	}
}

func TestVirtualCharacterIsCommitted(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))

	h.r.HandleEvent(EngineKeyEvent{Unicode: 'é', States: StateVirtual})

	assertCalls(t, []string{"CommitText(é,1)"}, h.field.take())
	assert.Equal(t, cursor.At(1), h.r.Selection())
}

func TestPhysicalKeyReplay(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))

	original := KeyEvent{Code: KeyCodeA, Meta: MetaShiftOn | MetaShiftLeftOn, Unicode: 'A', Time: 77}
	require.True(t, h.r.Keys().Forward(original))
	assertCalls(t, []string{"SendKey(sym=0x0000,unicode='A',states=0x1,up=false,seq=0)"}, h.engineCalls())

	h.r.HandleEvent(EngineKeyEvent{Sym: 'A', Unicode: 'A', States: StateShift, SequenceID: 0})
	assertCalls(t, []string{fmt.Sprintf("SendKeyEvent(%d,down,meta=%#x,t=77)", KeyCodeA, MetaShiftOn|MetaShiftLeftOn)}, h.field.take())

	// replay is single use: the second request is synthesized from the symbol
	h.r.HandleEvent(EngineKeyEvent{Sym: 'A', Unicode: 'A', States: StateShift, SequenceID: 0})
	assertCalls(t, []string{fmt.Sprintf("SendKeyEvent(%d,down,meta=%#x,t=1000)", KeyCodeA, MetaShiftOn|MetaShiftLeftOn)}, h.field.take())

	assert.Equal(t, 1, h.obs.hits)
	assert.Equal(t, 1, h.obs.misses)
}

func TestPhysicalKeyWithoutKeyCode(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))

	h.r.HandleEvent(EngineKeyEvent{Sym: SymFromRune('你'), Unicode: '你', SequenceID: 9})
	assertCalls(t, []string{"CommitText(你,1)"}, h.field.take())

	h.r.HandleEvent(EngineKeyEvent{Sym: SymFromRune('你'), Unicode: '你', Up: true, SequenceID: 10})
	h.r.HandleEvent(EngineKeyEvent{Sym: 0xfe03, SequenceID: 11})
	assert.Empty(t, h.field.take())
}

func TestForwardKey(t *testing.T) {
	tests := []struct {
		name string
		ev   KeyEvent
		want string
	}{
		{"character", KeyEvent{Code: KeyCodeA, Unicode: 'a'}, "SendKey(sym=0x0000,unicode='a',states=0x0,up=false,seq=0)"},
		{"enter as symbol", KeyEvent{Code: KeyCodeEnter, Unicode: '\n'}, "SendKey(sym=0xff0d,unicode='\\x00',states=0x0,up=false,seq=0)"},
		{"tab as symbol", KeyEvent{Code: KeyCodeTab, Unicode: '\t', Up: true}, "SendKey(sym=0xff09,unicode='\\x00',states=0x0,up=true,seq=0)"},
		{"arrow with ctrl", KeyEvent{Code: KeyCodeDPadLeft, Meta: MetaCtrlOn | MetaCtrlLeftOn}, "SendKey(sym=0xff51,unicode='\\x00',states=0x4,up=false,seq=0)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			require.True(t, h.r.Keys().Forward(tc.ev))
			assertCalls(t, []string{tc.want}, h.engineCalls())
			assert.Equal(t, 1, h.r.Keys().Cached())
		})
	}

	t.Run("unknown key is left to the host", func(t *testing.T) {
		h := newHarness(t, Options{})
		assert.False(t, h.r.Keys().Forward(KeyEvent{Code: 999}))
		assert.Zero(t, h.r.Keys().Cached())
		assert.Empty(t, h.engineCalls())
	})
}

func TestSendCombinationKey(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))

	h.r.SendCombinationKey(KeyCodeA+2, false, true, true)

	meta := MetaCtrlOn | MetaCtrlLeftOn | MetaShiftOn | MetaShiftLeftOn
	assertCalls(t, []string{
		fmt.Sprintf("SendKeyEvent(%d,down,meta=0x0,t=1000)", KeyCodeCtrlLeft),
		fmt.Sprintf("SendKeyEvent(%d,down,meta=0x0,t=1000)", KeyCodeShiftLeft),
		fmt.Sprintf("SendKeyEvent(%d,down,meta=%#x,t=1000)", KeyCodeA+2, meta),
		fmt.Sprintf("SendKeyEvent(%d,up,meta=%#x,t=1000)", KeyCodeA+2, meta),
		fmt.Sprintf("SendKeyEvent(%d,up,meta=0x0,t=1000)", KeyCodeShiftLeft),
		fmt.Sprintf("SendKeyEvent(%d,up,meta=0x0,t=1000)", KeyCodeCtrlLeft),
	}, h.field.take())
}

func TestKeyMapping(t *testing.T) {
	for _, tc := range []struct {
		sym  KeySym
		code int
	}{
		{'a', KeyCodeA},
		{'Q', KeyCodeA + 16},
		{'7', KeyCode0 + 7},
		{SymF1 + 4, KeyCodeF1 + 4},
		{SymBackSpace, KeyCodeDel},
		{SymReturn, KeyCodeEnter},
		{SymControlL, KeyCodeCtrlLeft},
		{SymDelete, KeyCodeForwardDel},
		{0xfe03, KeyCodeUnknown},
	} {
		assert.Equal(t, tc.code, tc.sym.KeyCode(), "sym %s", tc.sym)
		if tc.code == KeyCodeUnknown {
			continue
		}
		back, ok := SymFromKeyCode(tc.code)
		require.True(t, ok)
		assert.Equal(t, tc.code, back.KeyCode())
	}

	_, ok := SymFromKeyCode(KeyCodeUnknown)
	assert.False(t, ok)
}

func TestSymRunes(t *testing.T) {
	for _, r := range []rune{'a', '~', 'é', '你', '😀'} {
		assert.Equal(t, r, SymFromRune(r).Rune(), "rune %q", r)
	}
	assert.Equal(t, rune(0), SymReturn.Rune())

	in := KeyInput{Unicode: '你', Sym: SymReturn}
	assert.Equal(t, SymFromRune('你'), in.Symbol())
}

func TestMetaStateRoundTrip(t *testing.T) {
	for _, s := range []KeyStates{
		0,
		StateShift,
		StateCtrl | StateAlt,
		StateShift | StateCapsLock | StateNumLock | StateSuper,
	} {
		assert.Equal(t, s, StatesFromMeta(s.MetaState()))
	}
	assert.Equal(t, MetaAltOn|MetaAltLeftOn, StateAlt.MetaState())
}

// closedQueue refuses every job, like a sequencer after Close.
type closedQueue struct{}

func (closedQueue) Submit(string, jobs.Job) error { return jobs.ErrClosed }
func (closedQueue) Discard() int                  { return 0 }

func TestForwardKeyNotQueued(t *testing.T) {
	field := &fakeField{}
	host := &fakeHost{field: field, subtypes: map[string]bool{}}
	obs := &countingObserver{}
	r, err := NewReconciler(host, newFakeConn(), closedQueue{}, Options{Observer: obs})
	require.NoError(t, err)

	assert.False(t, r.Keys().Forward(KeyEvent{Code: KeyCodeA, Unicode: 'a'}))
	assert.Zero(t, r.Keys().Cached())
	assert.Equal(t, []string{"send-key"}, obs.dropped)
}

func TestTranslateKey(t *testing.T) {
	in, ok := TranslateKey(KeyEvent{Code: KeyCodeA, Unicode: 'A', Meta: MetaShiftOn})
	require.True(t, ok)
	assert.Equal(t, KeyInput{Unicode: 'A', States: StateShift}, in)

	in, ok = TranslateKey(KeyEvent{Code: KeyCodeEnter, Unicode: '\n', Up: true})
	require.True(t, ok)
	assert.Equal(t, KeyInput{Sym: SymReturn, Up: true}, in)

	_, ok = TranslateKey(KeyEvent{Code: 999})
	assert.False(t, ok)
}
