// Package console implements a terminal surface. On a tty it rewrites
// the previously printed block in place with ANSI escapes; when output
// is piped it degrades to plain append-only lines.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"beacon/internal/surface"
)

type Config struct {
	// Out defaults to os.Stderr so notifications don't mix with piped
	// program output.
	Out io.Writer
	// ForceAppend disables in-place rewriting even on a tty.
	ForceAppend bool
}

type Surface struct {
	mu  sync.Mutex
	out io.Writer
	tty bool

	seq       int
	lastID    int
	lastLines int
}

func New(cfg Config) *Surface {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	tty := false
	if !cfg.ForceAppend {
		if f, ok := out.(*os.File); ok {
			tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	return &Surface{out: out, tty: tty}
}

func (s *Surface) SendText(ctx context.Context, text string, opt *surface.SendOptions) (surface.MessageRef, error) {
	_ = ctx
	_ = opt
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.out, text); err != nil {
		return surface.MessageRef{}, err
	}
	s.seq++
	s.lastID = s.seq
	s.lastLines = countLines(text)
	return surface.MessageRef{MessageID: s.seq}, nil
}

func (s *Surface) EditText(ctx context.Context, ref surface.MessageRef, text string, opt *surface.SendOptions) error {
	_ = ctx
	_ = opt
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tty {
		return fmt.Errorf("console: edit unsupported without a tty")
	}
	// Only the most recently printed block can be rewritten; anything
	// older has scrolled away.
	if ref.MessageID != s.lastID {
		return fmt.Errorf("console: stale message ref %d", ref.MessageID)
	}
	// Move up over the previous block and clear to end of screen.
	if _, err := fmt.Fprintf(s.out, "\x1b[%dA\x1b[J%s\n", s.lastLines, text); err != nil {
		return err
	}
	s.lastLines = countLines(text)
	return nil
}

func (s *Surface) SupportsEdit(ctx context.Context) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tty, nil
}

func countLines(text string) int {
	return strings.Count(text, "\n") + 1
}
