package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSendAppendsLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := New(Config{Out: &buf})

	ref, err := s.SendText(context.Background(), "gopls\n  indexing", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.MessageID == 0 {
		t.Fatal("expected non-zero message id")
	}
	if got := buf.String(); got != "gopls\n  indexing\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestEditUnsupportedWithoutTTY(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := New(Config{Out: &buf})

	ok, err := s.SupportsEdit(context.Background())
	if err != nil {
		t.Fatalf("SupportsEdit: %v", err)
	}
	if ok {
		t.Fatal("buffer output must not support edit")
	}

	ref, _ := s.SendText(context.Background(), "x", nil)
	if err := s.EditText(context.Background(), ref, "y", nil); err == nil {
		t.Fatal("EditText must fail without a tty")
	}
}

func TestEditRewritesLastBlock(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := New(Config{Out: &buf})
	s.tty = true // simulate a terminal

	ref, _ := s.SendText(context.Background(), "line1\nline2", nil)
	if err := s.EditText(context.Background(), ref, "replaced", nil); err != nil {
		t.Fatalf("EditText: %v", err)
	}
	out := buf.String()
	// Cursor moves up over the 2-line block, clears, rewrites.
	if !strings.Contains(out, "\x1b[2A\x1b[J"+"replaced\n") {
		t.Fatalf("output = %q, want ANSI rewrite sequence", out)
	}
}

func TestEditRejectsStaleRef(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := New(Config{Out: &buf})
	s.tty = true

	old, _ := s.SendText(context.Background(), "first", nil)
	_, _ = s.SendText(context.Background(), "second", nil)
	if err := s.EditText(context.Background(), old, "update", nil); err == nil {
		t.Fatal("stale ref must be rejected")
	}
}

func TestForceAppendDisablesEdit(t *testing.T) {
	t.Parallel()
	s := New(Config{Out: &bytes.Buffer{}, ForceAppend: true})
	if ok, _ := s.SupportsEdit(context.Background()); ok {
		t.Fatal("ForceAppend must report no edit capability")
	}
}
