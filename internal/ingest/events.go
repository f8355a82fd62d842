// Package ingest translates protocol-level backend events into registry
// and readiness mutations. The transport that delivers the payloads is
// an external collaborator; these are plain callbacks.
package ingest

// Source identifies the reporting backend session.
type Source struct {
	// ClientID is the backend-assigned opaque session identifier.
	ClientID string
	// Name is the backend's display name, also the exclusion-set key.
	Name string
}

// ProgressKind discriminates progress payloads.
type ProgressKind string

const (
	ProgressReport ProgressKind = "report"
	ProgressEnd    ProgressKind = "end"
)

// ProgressEvent is a named-work progress payload ($-style progress
// token reporting).
type ProgressEvent struct {
	Source Source
	Kind   ProgressKind

	// Token is the backend-defined task identifier.
	Token      string
	Title      string
	Message    string
	Percentage *int

	// Resources lists the resources owned by the client at delivery
	// time (the host's attachment context).
	Resources []string
}

// FileStatus is one resource's reported state inside a sync event.
//
// Kind mapping: 1 ready/info, 3 warn, 4 error, anything else
// info/pending.
type FileStatus struct {
	Kind    int
	Message string
}

// FileStatusEvent is a per-resource status sweep from a backend.
type FileStatusEvent struct {
	Source   Source
	Statuses map[string]FileStatus

	// Resources lists the owned resources to reconcile against
	// Statuses; owned resources missing from the map become unattached.
	Resources []string
}

// MessageEvent is free-text backend output forwarded straight to the
// surface, bypassing the aggregate.
//
// Level ordinal: 0 error, 1 warn, 2 info, 3 hint (treated as info).
type MessageEvent struct {
	Source Source
	Level  int
	Text   string
}
