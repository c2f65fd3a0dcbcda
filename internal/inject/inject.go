// Package inject provides text injection into the active application
// using robotgo for keystroke simulation or clipboard paste.
package inject

import (
	"fmt"
	"runtime"

	"github.com/go-vgo/robotgo"
)

// Methods accepted by NewInjector.
const (
	MethodType  = "type"
	MethodPaste = "paste"
	MethodNone  = "none"
)

// TextInjector delivers transcribed text to the user.
type TextInjector interface {
	Inject(text string) error
}

// keyboard is the subset of robotgo the injector drives.
type keyboard struct {
	typeStr   func(text string)
	readAll   func() (string, error)
	writeAll  func(text string) error
	keyTap    func(key string, modifiers ...interface{}) error
	pasteMods []interface{}
}

func robotgoKeyboard() keyboard {
	mod := "ctrl"
	if runtime.GOOS == "darwin" {
		mod = "cmd"
	}
	return keyboard{
		typeStr:   func(text string) { robotgo.Type(text) },
		readAll:   robotgo.ReadAll,
		writeAll:  robotgo.WriteAll,
		keyTap:    robotgo.KeyTap,
		pasteMods: []interface{}{mod},
	}
}

// Injector handles typing or pasting text into the active application.
type Injector struct {
	method string // "type", "paste" or "none"
	kb     keyboard
}

// Compile-time interface satisfaction check.
var _ TextInjector = (*Injector)(nil)

// NewInjector creates an Injector with the given method.
// method must be "type" (keystroke simulation), "paste" (clipboard) or
// "none" (leave delivery to other consumers, e.g. history only).
func NewInjector(method string) *Injector {
	return &Injector{method: method, kb: robotgoKeyboard()}
}

// Method returns the configured injection method.
func (inj *Injector) Method() string { return inj.method }

// Inject sends text to the active application using the configured method.
func (inj *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}

	switch inj.method {
	case MethodNone:
		return nil
	case MethodPaste:
		return inj.paste(text)
	case MethodType, "":
		return inj.typeText(text)
	default:
		return fmt.Errorf("inject: unknown method %q", inj.method)
	}
}

// typeText simulates individual keystrokes. Preserves clipboard contents
// but is slower for long text.
func (inj *Injector) typeText(text string) error {
	inj.kb.typeStr(text)
	return nil
}

// paste copies text to clipboard and pastes it with Cmd+V (Ctrl+V off macOS).
// Faster for long text but briefly overwrites the clipboard.
func (inj *Injector) paste(text string) error {
	// Save current clipboard
	prev, _ := inj.kb.readAll()

	if err := inj.kb.writeAll(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}

	if err := inj.kb.keyTap("v", inj.kb.pasteMods...); err != nil {
		return fmt.Errorf("inject: key tap paste: %w", err)
	}

	// Restore previous clipboard (best effort)
	_ = inj.kb.writeAll(prev)

	return nil
}
