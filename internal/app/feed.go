package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"beacon/internal/ingest"
	logx "beacon/pkg/logx"
)

// Feed reads newline-delimited JSON events from a reader (normally the
// daemon's stdin) and dispatches them to the ingest handlers. Malformed
// lines are logged and skipped; a closed reader ends the feed.
type Feed struct {
	r   io.Reader
	log logx.Logger
}

func NewFeed(r io.Reader, log logx.Logger) *Feed {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feed{r: r, log: log}
}

// AttachFeed installs the event feed. Must be called before Start.
func (a *App) AttachFeed(r io.Reader) {
	a.feed = NewFeed(r, a.log.With(logx.String("comp", "feed")))
}

// feedEnvelope is the wire shape of one feed line. Type selects the
// payload fields that apply.
type feedEnvelope struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Backend  string `json:"backend"`

	// type=progress
	Kind       string   `json:"kind,omitempty"`
	Token      string   `json:"token,omitempty"`
	Title      string   `json:"title,omitempty"`
	Message    string   `json:"message,omitempty"`
	Percentage *int     `json:"percentage,omitempty"`
	Resources  []string `json:"resources,omitempty"`

	// type=fileStatus
	Statuses map[string]feedFileStatus `json:"statuses,omitempty"`

	// type=message
	Level int    `json:"level,omitempty"`
	Text  string `json:"text,omitempty"`
}

type feedFileStatus struct {
	Kind    int    `json:"kind"`
	Message string `json:"message,omitempty"`
}

const maxFeedLine = 1 << 20

func (f *Feed) Run(ctx context.Context, h *ingest.Handlers) error {
	sc := bufio.NewScanner(f.r)
	sc.Buffer(make([]byte, 64*1024), maxFeedLine)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			cp := make([]byte, len(line))
			copy(cp, line)
			select {
			case lines <- cp:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return err
					}
				default:
				}
				f.log.Info("feed closed")
				return nil
			}
			f.dispatch(h, line)
		}
	}
}

func (f *Feed) dispatch(h *ingest.Handlers, line []byte) {
	var env feedEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		f.log.Warn("malformed feed line skipped", logx.Err(err))
		return
	}
	src := ingest.Source{ClientID: env.ClientID, Name: env.Backend}
	switch strings.TrimSpace(env.Type) {
	case "progress":
		h.HandleProgress(ingest.ProgressEvent{
			Source:     src,
			Kind:       ingest.ProgressKind(env.Kind),
			Token:      env.Token,
			Title:      env.Title,
			Message:    env.Message,
			Percentage: env.Percentage,
			Resources:  env.Resources,
		})
	case "fileStatus":
		statuses := make(map[string]ingest.FileStatus, len(env.Statuses))
		for res, fs := range env.Statuses {
			statuses[res] = ingest.FileStatus{Kind: fs.Kind, Message: fs.Message}
		}
		h.HandleFileStatus(ingest.FileStatusEvent{
			Source:    src,
			Statuses:  statuses,
			Resources: env.Resources,
		})
	case "message":
		h.HandleMessage(ingest.MessageEvent{
			Source: src,
			Level:  env.Level,
			Text:   env.Text,
		})
	default:
		f.log.Warn("unknown feed event type skipped", logx.String("type", env.Type))
	}
}
