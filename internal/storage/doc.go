// Package storage is beacon's optional persistence layer: readiness
// snapshots (so a restarted daemon remembers tracked resources) and
// one-shot message dedup windows. Notification bodies are never stored.
package storage
