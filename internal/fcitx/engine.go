package fcitx

import (
	"context"
	"fmt"

	"imebridge/internal/ime"
)

var (
	_ ime.Connection = (*Conn)(nil)
	_ ime.Engine     = (*Conn)(nil)
)

// Action types accepted by InputContext1.InvokeAction.
const (
	actionLeftClick uint32 = 0
)

// groupItem is an entry of an input method group.
type groupItem struct {
	Name   string
	Layout string
}

// availableIM is an entry of Controller1.AvailableInputMethods.
type availableIM struct {
	UniqueName   string
	Name         string
	NativeName   string
	Icon         string
	Label        string
	LanguageCode string
	Configurable bool
}

// Activate selects the input context of a client, creating it on first use.
func (c *Conn) Activate(ctx context.Context, uid int, pkg string) error {
	c.mu.Lock()
	if ic, ok := c.contexts[uid]; ok {
		c.active = ic
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	program := pkg
	if program == "" {
		program = c.cfg.ProgramName
	}
	ic, err := c.createInputContext(ctx, uid, program)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.contexts[uid]; ok {
		// lost a race with another activation, keep the first context
		c.active = existing
		go c.destroy(ic)
		return nil
	}
	c.contexts[uid] = ic
	c.active = ic
	c.logger.Debug("input context created", "uid", uid, "path", ic.path)
	return nil
}

func (c *Conn) createInputContext(ctx context.Context, uid int, program string) (*inputContext, error) {
	args := []struct {
		Key   string
		Value string
	}{
		{"program", program},
		{"display", "imebridge"},
	}
	ic := &inputContext{uid: uid, pkg: program}
	var id []byte
	obj := c.bus.Object(Service, InputMethodPath)
	err := obj.CallWithContext(ctx, InputMethodInterface+".CreateInputContext", 0, args).Store(&ic.path, &id)
	if err != nil {
		return nil, fmt.Errorf("fcitx: create input context for %s: %w", program, err)
	}
	return ic, nil
}

func (c *Conn) destroy(ic *inputContext) {
	if err := c.callIC(context.Background(), ic.path, "DestroyIC"); err != nil {
		c.logger.Debug("destroy input context", "uid", ic.uid, "error", err)
	}
}

// Deactivate destroys the input context of a client.
func (c *Conn) Deactivate(ctx context.Context, uid int) error {
	c.mu.Lock()
	ic, ok := c.contexts[uid]
	if ok {
		delete(c.contexts, uid)
		if c.active == ic {
			c.active = nil
		}
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.preeditEmpty.Store(true)
	if err := c.callIC(ctx, ic.path, "DestroyIC"); err != nil {
		return fmt.Errorf("fcitx: DestroyIC: %w", err)
	}
	return nil
}

// SendKey passes a key to fcitx. A key fcitx does not consume comes back as
// an engine key event carrying the same sequence id, so the original host
// event is replayed.
func (c *Conn) SendKey(ctx context.Context, k ime.KeyInput) error {
	ic, err := c.activeContext()
	if err != nil {
		return err
	}
	var handled bool
	obj := c.bus.Object(Service, ic.path)
	call := obj.CallWithContext(ctx, InputContextInterface+".ProcessKeyEvent", 0,
		uint32(k.Symbol()), uint32(0), uint32(k.States), k.Up, uint32(0))
	if err := call.Store(&handled); err != nil {
		return fmt.Errorf("fcitx: ProcessKeyEvent: %w", err)
	}
	if !handled {
		c.emit(ime.EngineKeyEvent{
			Sym:        k.Symbol(),
			Unicode:    k.Unicode,
			States:     k.States,
			Up:         k.Up,
			SequenceID: k.SequenceID,
		})
	}
	return nil
}

// MoveCursor clicks into the preedit at a codepoint offset.
func (c *Conn) MoveCursor(ctx context.Context, pos int) error {
	return c.callActive(ctx, "InvokeAction", actionLeftClick, int32(pos))
}

func (c *Conn) Focus(ctx context.Context, focused bool) error {
	if focused {
		return c.callActive(ctx, "FocusIn")
	}
	return c.callActive(ctx, "FocusOut")
}

func (c *Conn) Reset(ctx context.Context) error {
	if err := c.callActive(ctx, "Reset"); err != nil {
		return err
	}
	c.preeditEmpty.Store(true)
	return nil
}

// IsEmpty reports whether the last preedit fcitx sent was empty. The D-Bus
// frontend has no direct query for the composition state.
func (c *Conn) IsEmpty(context.Context) (bool, error) {
	return c.preeditEmpty.Load(), nil
}

func (c *Conn) SetCapabilityFlags(ctx context.Context, flags ime.CapabilityFlags) error {
	return c.callActive(ctx, "SetCapability", uint64(flags))
}

// ActivateIME switches fcitx to an input method by unique name.
func (c *Conn) ActivateIME(ctx context.Context, id string) error {
	call := c.controller().CallWithContext(ctx, ControllerInterface+".SetCurrentIM", 0, id)
	if call.Err != nil {
		return fmt.Errorf("fcitx: SetCurrentIM %s: %w", id, call.Err)
	}
	return nil
}

// EnabledInputMethods lists the input methods of the current group.
func (c *Conn) EnabledInputMethods(ctx context.Context) ([]ime.InputMethod, error) {
	obj := c.controller()

	var group string
	if err := obj.CallWithContext(ctx, ControllerInterface+".CurrentInputMethodGroup", 0).Store(&group); err != nil {
		return nil, fmt.Errorf("fcitx: CurrentInputMethodGroup: %w", err)
	}
	var layout string
	var items []groupItem
	if err := obj.CallWithContext(ctx, ControllerInterface+".InputMethodGroupInfo", 0, group).Store(&layout, &items); err != nil {
		return nil, fmt.Errorf("fcitx: InputMethodGroupInfo %s: %w", group, err)
	}
	var available []availableIM
	if err := obj.CallWithContext(ctx, ControllerInterface+".AvailableInputMethods", 0).Store(&available); err != nil {
		return nil, fmt.Errorf("fcitx: AvailableInputMethods: %w", err)
	}
	return enabledMethods(items, available), nil
}

// enabledMethods resolves group entries against the available input
// methods, keeping group order. Entries fcitx does not know are skipped.
func enabledMethods(items []groupItem, available []availableIM) []ime.InputMethod {
	byName := make(map[string]availableIM, len(available))
	for _, im := range available {
		byName[im.UniqueName] = im
	}
	methods := make([]ime.InputMethod, 0, len(items))
	for _, item := range items {
		im, ok := byName[item.Name]
		if !ok {
			continue
		}
		name := im.NativeName
		if name == "" {
			name = im.Name
		}
		methods = append(methods, ime.InputMethod{
			ID:       im.UniqueName,
			Name:     name,
			Language: im.LanguageCode,
			Icon:     im.Icon,
		})
	}
	return methods
}
