package ime

import "strings"

// Input type classes and flags of the host field.
const (
	TypeMaskClass     = 0x0000000f
	TypeMaskVariation = 0x00000ff0
	TypeNull          = 0x00000000
	TypeClassText     = 0x00000001
	TypeClassNumber   = 0x00000002
	TypeClassPhone    = 0x00000003
	TypeClassDatetime = 0x00000004

	TypeTextVariationURI             = 0x00000010
	TypeTextVariationEmailAddress    = 0x00000020
	TypeTextVariationPersonName      = 0x00000060
	TypeTextVariationPassword        = 0x00000080
	TypeTextVariationVisiblePassword = 0x00000090
	TypeTextVariationWebEmail        = 0x000000d0
	TypeTextVariationWebPassword     = 0x000000e0

	TypeNumberVariationPassword = 0x00000010
	TypeDatetimeVariationDate   = 0x00000010
	TypeDatetimeVariationTime   = 0x00000020

	TypeTextFlagCapCharacters = 0x00001000
	TypeTextFlagCapWords      = 0x00002000
	TypeTextFlagCapSentences  = 0x00004000
	TypeTextFlagAutoCorrect   = 0x00008000
	TypeTextFlagAutoComplete  = 0x00010000
	TypeTextFlagMultiLine     = 0x00020000
	TypeTextFlagNoSuggestions = 0x00080000
)

// Editor actions and IME option flags.
const (
	ActionMask        = 0x000000ff
	ActionUnspecified = 0
	ActionNone        = 1
	ActionGo          = 2
	ActionSearch      = 3
	ActionSend        = 4
	ActionNext        = 5
	ActionDone        = 6
	ActionPrevious    = 7

	FlagNoPersonalizedLearning = 0x01000000
	FlagNoEnterAction          = 0x40000000
	FlagForceASCII             = 0x80000000
)

// DeleteSurroundingOption is the private option a field sets to receive
// backspace as a surrounding-text delete instead of a simulated key.
const DeleteSurroundingOption = "org.fcitx.fcitx5.android.DELETE_SURROUNDING"

// EditorInfo describes the host field an input session is attached to.
type EditorInfo struct {
	InputType         int
	ImeOptions        uint32
	ActionID          int
	ActionLabel       string
	PrivateImeOptions string
	InitialSelStart   int
	InitialSelEnd     int
	PackageName       string
	FieldID           int
}

// Class returns the input type class.
func (e EditorInfo) Class() int {
	return e.InputType & TypeMaskClass
}

// Variation returns the input type variation.
func (e EditorInfo) Variation() int {
	return e.InputType & TypeMaskVariation
}

// Action returns the declared editor action.
func (e EditorInfo) Action() int {
	return int(e.ImeOptions & ActionMask)
}

// WantsDeleteSurrounding reports whether backspace should be applied as a
// surrounding-text delete.
func (e EditorInfo) WantsDeleteSurrounding() bool {
	return e.PrivateImeOptions == DeleteSurroundingOption && e.Class() != TypeNull
}

// Sensitive reports whether text typed into the field must not be logged.
func (e EditorInfo) Sensitive() bool {
	return CapabilityFlagsFor(e).Has(CapPassword) || e.ImeOptions&FlagNoPersonalizedLearning != 0
}

// CapabilityFlags describes the field to the engine.
type CapabilityFlags uint64

// Engine capability flags.
const (
	CapPreedit              CapabilityFlags = 1 << 1
	CapPassword             CapabilityFlags = 1 << 3
	CapFormattedPreedit     CapabilityFlags = 1 << 4
	CapClientUnfocusCommit  CapabilityFlags = 1 << 5
	CapSurroundingText      CapabilityFlags = 1 << 6
	CapEmail                CapabilityFlags = 1 << 7
	CapDigit                CapabilityFlags = 1 << 8
	CapUppercase            CapabilityFlags = 1 << 9
	CapLowercase            CapabilityFlags = 1 << 10
	CapNoAutoUpperCase      CapabilityFlags = 1 << 11
	CapURL                  CapabilityFlags = 1 << 12
	CapDialable             CapabilityFlags = 1 << 13
	CapNumber               CapabilityFlags = 1 << 14
	CapNoOnScreenKeyboard   CapabilityFlags = 1 << 15
	CapSpellCheck           CapabilityFlags = 1 << 16
	CapNoSpellCheck         CapabilityFlags = 1 << 17
	CapWordCompletion       CapabilityFlags = 1 << 18
	CapUppercaseWords       CapabilityFlags = 1 << 19
	CapUppercaseSentences   CapabilityFlags = 1 << 20
	CapAlpha                CapabilityFlags = 1 << 21
	CapName                 CapabilityFlags = 1 << 22
	CapGetIMInfoOnFocus     CapabilityFlags = 1 << 23
	CapTerminal             CapabilityFlags = 1 << 25
	CapDate                 CapabilityFlags = 1 << 26
	CapTime                 CapabilityFlags = 1 << 27
	CapMultiline            CapabilityFlags = 1 << 28
	CapSensitive            CapabilityFlags = 1 << 29
	CapClientSideInputPanel CapabilityFlags = 1 << 39
)

// DefaultCapabilityFlags is used while no field is focused.
const DefaultCapabilityFlags = CapPreedit | CapFormattedPreedit | CapClientUnfocusCommit |
	CapGetIMInfoOnFocus | CapClientSideInputPanel

// Has reports whether all bits of f are set.
func (c CapabilityFlags) Has(f CapabilityFlags) bool {
	return c&f == f
}

var capNames = []struct {
	flag CapabilityFlags
	name string
}{
	{CapPreedit, "Preedit"},
	{CapPassword, "Password"},
	{CapFormattedPreedit, "FormattedPreedit"},
	{CapClientUnfocusCommit, "ClientUnfocusCommit"},
	{CapEmail, "Email"},
	{CapDigit, "Digit"},
	{CapURL, "Url"},
	{CapDialable, "Dialable"},
	{CapNumber, "Number"},
	{CapSpellCheck, "SpellCheck"},
	{CapNoSpellCheck, "NoSpellCheck"},
	{CapWordCompletion, "WordCompletion"},
	{CapUppercase, "Uppercase"},
	{CapUppercaseWords, "UppercaseWords"},
	{CapUppercaseSentences, "UppercaseSentences"},
	{CapAlpha, "Alpha"},
	{CapName, "Name"},
	{CapGetIMInfoOnFocus, "GetIMInfoOnFocus"},
	{CapDate, "Date"},
	{CapTime, "Time"},
	{CapMultiline, "Multiline"},
	{CapSensitive, "Sensitive"},
	{CapClientSideInputPanel, "ClientSideInputPanel"},
}

func (c CapabilityFlags) String() string {
	var parts []string
	for _, n := range capNames {
		if c.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NoFlag"
	}
	return strings.Join(parts, "|")
}

// CapabilityFlagsFor derives engine capability flags from the field's
// declared input type and options.
func CapabilityFlagsFor(e EditorInfo) CapabilityFlags {
	flags := DefaultCapabilityFlags
	switch e.Class() {
	case TypeClassText:
		switch e.Variation() {
		case TypeTextVariationPassword, TypeTextVariationVisiblePassword, TypeTextVariationWebPassword:
			flags |= CapPassword | CapSensitive
		case TypeTextVariationEmailAddress, TypeTextVariationWebEmail:
			flags |= CapEmail
		case TypeTextVariationURI:
			flags |= CapURL
		case TypeTextVariationPersonName:
			flags |= CapName
		}
		if e.InputType&TypeTextFlagCapCharacters != 0 {
			flags |= CapUppercase
		}
		if e.InputType&TypeTextFlagCapWords != 0 {
			flags |= CapUppercaseWords
		}
		if e.InputType&TypeTextFlagCapSentences != 0 {
			flags |= CapUppercaseSentences
		}
		if e.InputType&TypeTextFlagAutoCorrect != 0 {
			flags |= CapSpellCheck
		}
		if e.InputType&TypeTextFlagAutoComplete != 0 {
			flags |= CapWordCompletion
		}
		if e.InputType&TypeTextFlagMultiLine != 0 {
			flags |= CapMultiline
		}
		if e.InputType&TypeTextFlagNoSuggestions != 0 {
			flags |= CapNoSpellCheck
		}
	case TypeClassNumber:
		flags |= CapNumber
		if e.Variation() == TypeNumberVariationPassword {
			flags |= CapPassword | CapSensitive
		}
	case TypeClassPhone:
		flags |= CapDialable
	case TypeClassDatetime:
		switch e.Variation() {
		case TypeDatetimeVariationDate:
			flags |= CapDate
		case TypeDatetimeVariationTime:
			flags |= CapTime
		default:
			flags |= CapDate | CapTime
		}
	}
	if e.ImeOptions&FlagNoPersonalizedLearning != 0 {
		flags |= CapSensitive
	}
	if e.ImeOptions&FlagForceASCII != 0 {
		flags |= CapAlpha
	}
	return flags
}
