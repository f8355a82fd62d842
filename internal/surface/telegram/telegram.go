// Package telegram implements an edit-capable surface on top of a
// Telegram chat: the aggregate notification is one message that gets
// edited in place on every update.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"beacon/internal/surface"
	logx "beacon/pkg/logx"
)

// textLimit keeps bodies under Telegram's message size cap with some
// headroom for the icon header.
const textLimit = 4000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// Timeout bounds each API call.
	Timeout time.Duration
}

type Surface struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Surface, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Surface{cfg: cfg, bot: b, log: log}, nil
}

func (s *Surface) SendText(ctx context.Context, text string, opt *surface.SendOptions) (surface.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return surface.MessageRef{}, err
	}
	chat := &tele.Chat{ID: s.cfg.ChatID}
	sendOpt := s.sendOptions(opt)
	msg, err := s.bot.Send(chat, truncRunes(text, textLimit), sendOpt)
	if err != nil {
		return surface.MessageRef{}, err
	}
	return surface.MessageRef{ChatID: msg.Chat.ID, ThreadID: s.cfg.ThreadID, MessageID: msg.ID}, nil
}

func (s *Surface) EditText(ctx context.Context, ref surface.MessageRef, text string, opt *surface.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	stored := &tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
	_, err := s.bot.Edit(stored, truncRunes(text, textLimit), s.sendOptions(opt))
	if err != nil && isNotModified(err) {
		// Identical text; nothing to do.
		return nil
	}
	return err
}

// SupportsEdit: Telegram always allows editing bot-authored messages.
func (s *Surface) SupportsEdit(ctx context.Context) (bool, error) {
	_ = ctx
	return true, nil
}

func (s *Surface) sendOptions(opt *surface.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: s.cfg.ThreadID}
	if opt != nil && opt.DisablePreview {
		so.DisableWebPagePreview = true
	}
	return so
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// truncRunes returns s truncated to at most n runes, with an ellipsis
// when cut.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
