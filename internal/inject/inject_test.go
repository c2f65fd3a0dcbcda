package inject

import (
	"errors"
	"testing"
)

// fakeKeyboard records what the injector does.
type fakeKeyboard struct {
	typed     []string
	clipboard string
	writes    []string
	taps      []string
	writeErr  error
	tapErr    error
}

func (f *fakeKeyboard) keyboard() keyboard {
	return keyboard{
		typeStr: func(text string) { f.typed = append(f.typed, text) },
		readAll: func() (string, error) { return f.clipboard, nil },
		writeAll: func(text string) error {
			if f.writeErr != nil {
				return f.writeErr
			}
			f.writes = append(f.writes, text)
			f.clipboard = text
			return nil
		},
		keyTap: func(key string, modifiers ...interface{}) error {
			if f.tapErr != nil {
				return f.tapErr
			}
			tap := key
			for _, m := range modifiers {
				tap = m.(string) + "+" + tap
			}
			f.taps = append(f.taps, tap)
			return nil
		},
		pasteMods: []interface{}{"cmd"},
	}
}

func newTestInjector(method string, f *fakeKeyboard) *Injector {
	return &Injector{method: method, kb: f.keyboard()}
}

func TestInjectType(t *testing.T) {
	f := &fakeKeyboard{}
	inj := newTestInjector(MethodType, f)

	if err := inj.Inject("hello world"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(f.typed) != 1 || f.typed[0] != "hello world" {
		t.Errorf("typed = %v", f.typed)
	}
	if len(f.writes) != 0 {
		t.Errorf("type method touched the clipboard: %v", f.writes)
	}
}

func TestInjectPasteRestoresClipboard(t *testing.T) {
	f := &fakeKeyboard{clipboard: "previous"}
	inj := newTestInjector(MethodPaste, f)

	if err := inj.Inject("hello world"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(f.taps) != 1 || f.taps[0] != "cmd+v" {
		t.Errorf("taps = %v, want [cmd+v]", f.taps)
	}
	if len(f.writes) != 2 || f.writes[0] != "hello world" || f.writes[1] != "previous" {
		t.Errorf("clipboard writes = %v", f.writes)
	}
	if f.clipboard != "previous" {
		t.Errorf("clipboard = %q, want previous", f.clipboard)
	}
}

func TestInjectPasteErrors(t *testing.T) {
	f := &fakeKeyboard{writeErr: errors.New("no clipboard")}
	if err := newTestInjector(MethodPaste, f).Inject("x"); err == nil {
		t.Error("Inject() should fail when the clipboard cannot be written")
	}

	f = &fakeKeyboard{tapErr: errors.New("no accessibility")}
	if err := newTestInjector(MethodPaste, f).Inject("x"); err == nil {
		t.Error("Inject() should fail when the key tap fails")
	}
}

func TestInjectNoneAndEmpty(t *testing.T) {
	f := &fakeKeyboard{}
	if err := newTestInjector(MethodNone, f).Inject("hello"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if err := newTestInjector(MethodType, f).Inject(""); err != nil {
		t.Fatalf("Inject(\"\") error = %v", err)
	}
	if len(f.typed) != 0 || len(f.writes) != 0 || len(f.taps) != 0 {
		t.Errorf("unexpected activity: %+v", f)
	}
}

func TestInjectUnknownMethod(t *testing.T) {
	f := &fakeKeyboard{}
	if err := newTestInjector("telepathy", f).Inject("hi"); err == nil {
		t.Error("Inject() should reject an unknown method")
	}
}

func TestNewInjectorMethod(t *testing.T) {
	if got := NewInjector(MethodPaste).Method(); got != MethodPaste {
		t.Errorf("Method() = %q, want paste", got)
	}
}
