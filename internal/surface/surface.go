// Package surface defines the narrow contract between the display
// adapter and whatever host mechanism actually shows notifications.
//
// A Surface instance is bound to its destination (a chat, a terminal)
// at construction; the display adapter only ever talks to one.
package surface

import (
	"context"
	"time"
)

// MessageRef identifies a previously emitted notification so an
// edit-capable surface can replace it in place.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// IsZero reports whether the ref points at nothing.
func (r MessageRef) IsZero() bool { return r.MessageID == 0 }

// SendOptions tunes a single emission. All fields are optional.
type SendOptions struct {
	// Timeout hints how long the notification should stay visible on
	// surfaces that auto-dismiss. Zero means surface default.
	Timeout time.Duration
	// DisablePreview suppresses link previews on surfaces that render them.
	DisablePreview bool
}

// Surface is the display mechanism consumed by the display adapter.
//
// EditText may be unsupported; callers learn that once via SupportsEdit
// and never re-probe. Errors from SendText/EditText are the surface's
// own problem: the adapter logs and moves on, it never retries.
type Surface interface {
	// SendText emits a new standalone notification.
	SendText(ctx context.Context, text string, opt *SendOptions) (MessageRef, error)

	// EditText replaces the referenced notification's text in place.
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error

	// SupportsEdit is probed exactly once, at display-adapter init. An
	// error is treated as "capability absent", not propagated.
	SupportsEdit(ctx context.Context) (bool, error)
}
