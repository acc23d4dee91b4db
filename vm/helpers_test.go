package vm

import (
	"bytes"
	"testing"
)

// newTestVM returns a VM whose script output goes to the returned buffer.
func newTestVM(t *testing.T, opts ...Option) (*VM, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	m := NewVM(append([]Option{WithStdout(out)}, opts...)...)
	t.Cleanup(m.Close)
	return m, out
}

func mustRun(t *testing.T, m *VM, iseq *ISeq) Value {
	t.Helper()
	v, err := m.Run(iseq)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return v
}

func mustSend(t *testing.T, m *VM, recv Value, name string, args ...Value) Value {
	t.Helper()
	v, err := m.Send(recv, name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

// build assembles an ISeq of the given kind.
func build(name string, kind ISeqKind, fn func(b *ISeqBuilder)) *ISeq {
	b := NewISeqBuilder(name, kind)
	fn(b)
	return b.Build()
}

func topLevel(fn func(b *ISeqBuilder)) *ISeq { return build("<main>", ISeqTop, fn) }

// callSelf emits a receiverless call with argc arguments already pushed
// after self.
func callSelf(b *ISeqBuilder, name string, argc int) {
	b.Send(name, argc, FlagFcall, nil)
}

func expectInspect(t *testing.T, m *VM, v Value, want string) {
	t.Helper()
	if got := m.Inspect(v); got != want {
		t.Errorf("result = %s, want %s", got, want)
	}
}

func expectUncaught(t *testing.T, err error, class string) *UncaughtError {
	t.Helper()
	u, ok := err.(*UncaughtError)
	if !ok {
		t.Fatalf("error = %v (%T), want uncaught %s", err, err, class)
	}
	if u.Class != class {
		t.Fatalf("uncaught class = %s (%s), want %s", u.Class, u.Message, class)
	}
	return u
}
