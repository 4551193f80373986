package ime

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imebridge/internal/composing"
	"imebridge/internal/cursor"
)

func assertCalls(t *testing.T, want, got []string) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitReplacesPreedit(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))

	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("ni")})
	region, _ := h.r.ComposingRegion()
	require.Equal(t, composing.Region{Start: 0, End: 2}, region)
	h.field.take()

	h.r.HandleEvent(CommitEvent{Text: "你", Cursor: composing.NoCursor})

	assertCalls(t, []string{"CommitText(你,1)"}, h.field.take())
	assert.False(t, h.r.Composing())
	assert.Equal(t, cursor.At(1), h.r.Selection())
	assert.Empty(t, h.engineCalls())
}

func TestCommitMatchingPreeditOnlyPlacesCaret(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(3, 3))

	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("ab")})
	h.field.take()
	// the host confirms the caret after the preedit
	h.r.UpdateSelection(3, 3, 5, 5, 3, 5)

	h.r.HandleEvent(CommitEvent{Text: "ab", Cursor: composing.NoCursor})
	assertCalls(t, []string{"BeginBatchEdit", "FinishComposingText", "EndBatchEdit"}, h.field.take())

	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("cd")})
	h.field.take()
	h.r.UpdateSelection(5, 5, 7, 7, 5, 7)
	h.r.HandleEvent(CommitEvent{Text: "cd", Cursor: 0})
	assertCalls(t, []string{
		"BeginBatchEdit",
		"SetSelection(5,5)",
		"FinishComposingText",
		"EndBatchEdit",
	}, h.field.take())
	assert.False(t, h.r.Composing())
}

func TestCommitWithExplicitCursor(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(4, 4))

	h.r.HandleEvent(CommitEvent{Text: "hello", Cursor: 2})

	assertCalls(t, []string{
		"BeginBatchEdit",
		"CommitText(hello,1)",
		"SetSelection(6,6)",
		"EndBatchEdit",
	}, h.field.take())
	assert.Equal(t, []cursor.Range{cursor.At(6)}, h.r.Tracker().Pending())
}

func TestCommitCountsCodeUnits(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))

	h.r.HandleEvent(CommitEvent{Text: "😀x", Cursor: composing.NoCursor})
	assert.Equal(t, cursor.At(3), h.r.Selection())
}

func TestPreeditUpdates(t *testing.T) {
	t.Run("cursor at end", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.start(textField(2, 2))

		h.r.HandleEvent(PreeditEvent{Text: composing.Plain("nih")})
		assertCalls(t, []string{"BeginBatchEdit", "SetComposingText(nih,1)", "EndBatchEdit"}, h.field.take())
		region, text := h.r.ComposingRegion()
		assert.Equal(t, composing.Region{Start: 2, End: 5}, region)
		assert.Equal(t, "nih", text.String())
		assert.Equal(t, cursor.At(5), h.r.Selection())
	})

	t.Run("cursor inside", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.start(textField(0, 0))

		h.r.HandleEvent(PreeditEvent{Text: composing.Text{Runs: []composing.Run{{Text: "nihao"}}, Cursor: 2}})
		assertCalls(t, []string{
			"BeginBatchEdit",
			"SetComposingText(nihao,1)",
			"SetSelection(2,2)",
			"EndBatchEdit",
		}, h.field.take())
		assert.Equal(t, cursor.At(2), h.r.Selection())
	})

	t.Run("same text only moves cursor", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.start(textField(0, 0))

		h.r.HandleEvent(PreeditEvent{Text: composing.Plain("nihao")})
		h.field.take()
		h.r.HandleEvent(PreeditEvent{Text: composing.Text{Runs: []composing.Run{{Text: "nihao"}}, Cursor: 1}})
		assertCalls(t, []string{"BeginBatchEdit", "SetSelection(1,1)", "EndBatchEdit"}, h.field.take())

		h.r.HandleEvent(PreeditEvent{Text: composing.Text{Runs: []composing.Run{{Text: "nihao"}}, Cursor: 1}})
		assertCalls(t, []string{"BeginBatchEdit", "EndBatchEdit"}, h.field.take())
	})

	t.Run("cleared", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.start(textField(4, 4))

		h.r.HandleEvent(PreeditEvent{Text: composing.Plain("ab")})
		h.field.take()
		h.r.HandleEvent(PreeditEvent{Text: composing.Empty})
		assertCalls(t, []string{"BeginBatchEdit", "SetComposingText(,1)", "EndBatchEdit"}, h.field.take())
		assert.False(t, h.r.Composing())
		assert.Equal(t, cursor.At(4), h.r.Selection())
	})

	t.Run("styled runs", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.start(textField(0, 0))

		text := composing.Text{
			Runs: []composing.Run{
				{Text: "你", Format: composing.FormatUnderline},
				{Text: "hao", Format: composing.FormatHighlight},
			},
			Cursor: composing.NoCursor,
		}
		h.r.HandleEvent(PreeditEvent{Text: text})
		region, _ := h.r.ComposingRegion()
		assert.Equal(t, composing.Region{Start: 0, End: 4}, region)
	})
}

func TestFinishComposingIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))
	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("ni")})
	h.field.take()

	h.r.FinishComposing()
	h.r.FinishComposing()

	assertCalls(t, []string{"FinishComposingText"}, h.field.take())
	assert.False(t, h.r.Composing())
}

func TestSelectionConsumesPrediction(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(5, 5))

	h.r.Tracker().Predict(6)
	h.r.UpdateSelection(5, 5, 6, 6, -1, -1)

	assert.Equal(t, cursor.At(6), h.r.Tracker().Current())
	assert.Empty(t, h.r.Tracker().Pending())
	assert.Empty(t, h.engineCalls())
	assert.Equal(t, 1, h.obs.confirmed)
}

func TestExternalMoveResetsBusyEngine(t *testing.T) {
	for _, tc := range []struct {
		name  string
		empty bool
		want  []string
	}{
		{"busy engine", false, []string{"IsEmpty", "Reset"}},
		{"idle engine", true, []string{"IsEmpty"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.start(textField(5, 5))
			h.conn.engine.empty = tc.empty

			h.r.UpdateSelection(5, 5, 3, 3, -1, -1)

			assertCalls(t, tc.want, h.engineCalls())
			assert.Equal(t, cursor.At(3), h.r.Tracker().Current())
			assert.Empty(t, h.field.take())
		})
	}
}

func TestRangeSelectionIsNotForwarded(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(5, 5))
	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("ni")})
	h.field.take()

	h.r.UpdateSelection(5, 5, 1, 4, -1, -1)

	assert.Empty(t, h.engineCalls())
	assert.Empty(t, h.field.take())
	assert.True(t, h.r.Composing())
}

func TestCursorInsidePreeditMovesEngineCursor(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))
	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("😀ab")})
	h.field.take()

	// offset 3 is after the emoji and "a": two codepoints
	h.r.UpdateSelection(4, 4, 3, 3, 0, 4)

	assertCalls(t, []string{"MoveCursor(2)"}, h.engineCalls())
	assert.True(t, h.r.Composing())
}

func TestIgnoreSystemCursor(t *testing.T) {
	h := newHarness(t, Options{IgnoreSystemCursor: true})
	h.start(textField(0, 0))
	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("nihao")})

	h.r.UpdateSelection(5, 5, 2, 2, 0, 5)
	assert.Empty(t, h.engineCalls())

	// outside the preedit the option has no effect
	h.r.UpdateSelection(2, 2, 9, 9, 0, 5)
	assertCalls(t, []string{"Focus(false)", "Focus(true)"}, h.engineCalls())
}

func TestStaleCursorMoveIsSkipped(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))
	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("nihao")})

	h.r.UpdateSelection(5, 5, 2, 2, 0, 5)
	h.r.UpdateSelection(2, 2, 3, 3, 0, 5)
	require.Len(t, h.queue.jobs, 2)

	assertCalls(t, []string{"MoveCursor(3)"}, h.engineCalls())
}

func TestCursorLeavingPreeditResyncs(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))
	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("ni")})
	h.field.take()

	h.r.UpdateSelection(2, 2, 7, 7, 0, 2)

	assertCalls(t, []string{"FinishComposingText"}, h.field.take())
	assert.False(t, h.r.Composing())
	require.Len(t, h.queue.jobs, 1, "focus-out and focus-in share one job")
	assertCalls(t, []string{"Focus(false)", "Focus(true)"}, h.engineCalls())
	assert.Equal(t, 1, h.obs.resyncs)
}

func TestDeleteSurroundingPredictsFirst(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(10, 10))

	var atDelete cursor.Range
	h.field.hook = func(call string) {
		if call == "DeleteSurroundingText(2,0)" {
			atDelete = h.r.Selection()
		}
	}
	h.r.HandleEvent(DeleteSurroundingEvent{Before: 2, After: 0})

	assert.Equal(t, cursor.At(8), atDelete)
	assertCalls(t, []string{"DeleteSurroundingText(2,0)"}, h.field.take())
}

func TestDeleteSurroundingPrefersCodePoints(t *testing.T) {
	field := &codePointField{}
	host := &fakeHost{field: field, subtypes: map[string]bool{}}
	h := newHarnessWith(t, host, &field.fakeField, Options{})
	h.start(textField(10, 10))

	h.r.HandleEvent(DeleteSurroundingEvent{Before: 1, After: 1})

	assertCalls(t, []string{"DeleteSurroundingTextInCodePoints(1,1)"}, h.field.take())
}

func TestMissingFieldIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(3, 3))
	h.host.field = nil

	h.r.HandleEvent(CommitEvent{Text: "x", Cursor: composing.NoCursor})
	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("ab")})
	h.r.HandleEvent(DeleteSurroundingEvent{Before: 1})
	h.r.HandleEvent(EngineKeyEvent{Unicode: '\b', States: StateVirtual})
	h.r.FinishInputView()

	assert.Equal(t, cursor.At(3), h.r.Selection())
	assert.Empty(t, h.field.take())
}

func TestSelectionEdits(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(2, 6))

	h.r.ApplySelectionOffset(-1, 1)
	assertCalls(t, []string{"SetSelection(1,7)"}, h.field.take())

	h.r.ApplySelectionOffset(-5, 0)
	assertCalls(t, []string{"SetSelection(0,7)"}, h.field.take())

	h.r.ApplySelectionOffset(9, 0)
	assert.Empty(t, h.field.take(), "start past end is ignored")

	h.r.CancelSelection()
	assertCalls(t, []string{"SetSelection(7,7)"}, h.field.take())

	h.r.CancelSelection()
	h.r.DeleteSelection()
	assert.Empty(t, h.field.take())

	h.r.ApplySelectionOffset(-3, 0)
	h.r.DeleteSelection()
	assertCalls(t, []string{"SetSelection(4,7)", "CommitText(,1)"}, h.field.take())
	assert.Equal(t, cursor.At(4), h.r.Selection())
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	h.host.current = "pinyin"
	assert.Equal(t, StateUnbound, h.r.State())

	h.r.Bind(10001, "org.example.notes")
	assert.Equal(t, StateBound, h.r.State())
	assertCalls(t, []string{"Activate(10001,org.example.notes)", "ActivateIME(pinyin)"}, h.engineCalls())

	info := EditorInfo{InputType: TypeClassText | TypeTextVariationPassword}
	h.r.StartInput(info, true)
	assert.True(t, h.r.CapabilityFlags().Has(CapPassword))
	assertCalls(t, []string{
		"Focus(false)",
		"SetCapabilityFlags(" + CapabilityFlagsFor(info).String() + ")",
	}, h.engineCalls())

	h.r.StartInputView(info, false)
	assert.Equal(t, StateFocused, h.r.State())
	assertCalls(t, []string{"Focus(true)"}, h.engineCalls())

	h.r.HandleEvent(PreeditEvent{Text: composing.Plain("x")})
	h.field.take()
	h.r.FinishInputView()
	assert.Equal(t, StateUnfocused, h.r.State())
	assert.False(t, h.r.Composing())
	assertCalls(t, []string{"FinishComposingText"}, h.field.take())
	assertCalls(t, []string{"Focus(false)"}, h.engineCalls())

	h.r.FinishInput()
	assert.Equal(t, DefaultCapabilityFlags, h.r.CapabilityFlags())

	h.r.Bind(10002, "org.example.mail")
	// only the first bind adopts the host subtype
	assertCalls(t, []string{"Activate(10002,org.example.mail)"}, h.engineCalls())

	h.r.ConfigurationChanged()
	assertCalls(t, []string{"Reset"}, h.engineCalls())
}

func TestUnbindDiscardsPendingWork(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(textField(0, 0))
	h.r.Keys().Forward(KeyEvent{Code: KeyCodeA, Unicode: 'a'})
	h.r.ConfigurationChanged()
	h.r.ConfigurationChanged()

	h.r.Unbind(10001)

	assert.Equal(t, StateUnbound, h.r.State())
	assert.Equal(t, 0, h.r.Keys().Cached())
	assertCalls(t, []string{"Deactivate(10001)"}, h.engineCalls())

	id := h.r.Keys().cache.Put(KeyEvent{})
	assert.Equal(t, 0, id, "sequence ids restart after unbind")
}

func TestSubtypeEchoSuppression(t *testing.T) {
	h := newHarness(t, Options{})
	h.host.subtypes["pinyin"] = true

	h.r.HandleEvent(InputMethodEvent{ID: "pinyin"})
	h.r.HandleEvent(InputMethodEvent{ID: "unknown"})
	assert.Equal(t, []string{"pinyin"}, h.host.switched)

	h.r.SubtypeChanged("pinyin")
	assert.Empty(t, h.engineCalls(), "echo of our own switch")

	h.r.SubtypeChanged("pinyin")
	h.r.SubtypeChanged("rime")
	assertCalls(t, []string{"ActivateIME(pinyin)", "ActivateIME(rime)"}, h.engineCalls())
}

func TestSyncSubtypes(t *testing.T) {
	h := newHarness(t, Options{})
	h.r.SyncSubtypes()
	assert.Empty(t, h.engineCalls(), "host cannot sync")

	host := syncingHost{&fakeHost{subtypes: map[string]bool{}}}
	conn := newFakeConn()
	conn.engine.methods = []InputMethod{{ID: "pinyin", Name: "Pinyin", Language: "zh_CN"}}
	queue := &manualQueue{}
	r, err := NewReconciler(host, conn, queue, Options{})
	require.NoError(t, err)

	r.SyncSubtypes()
	queue.drain()
	require.Len(t, host.synced, 1)
	assert.Equal(t, "pinyin", host.synced[0][0].ID)
}

func TestEngineUnavailableDropsCommands(t *testing.T) {
	h := newHarness(t, Options{})
	h.conn.err = ErrEngineUnavailable

	h.r.ConfigurationChanged()
	h.r.Bind(1, "a")

	assert.Empty(t, h.engineCalls())
	assert.Equal(t, []string{"reset", "activate"}, h.obs.dropped)
}
