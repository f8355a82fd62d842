package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "beacon/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "beacon_store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("expected enabled store")
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestResourceRoundTripAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	if err := st.PutResource(ctx, ResourceRecord{Resource: "a.go", Status: "ready"}); err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	if err := st.PutResource(ctx, ResourceRecord{Resource: "b.go", Status: "pending"}); err != nil {
		t.Fatalf("PutResource: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = openTestStore(t, dir)
	defer st.Close()
	recs, err := st.ListResources(ctx)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	byName := map[string]string{}
	for _, r := range recs {
		byName[r.Resource] = r.Status
	}
	if byName["a.go"] != "ready" || byName["b.go"] != "pending" {
		t.Fatalf("records = %v", byName)
	}
}

func TestPruneResourcesByStatusAndAge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestStore(t, dir)
	defer st.Close()

	old := time.Now().Add(-48 * time.Hour)
	_ = st.PutResource(ctx, ResourceRecord{Resource: "stale.go", Status: "unattached", UpdatedAt: old})
	_ = st.PutResource(ctx, ResourceRecord{Resource: "fresh.go", Status: "unattached"})
	_ = st.PutResource(ctx, ResourceRecord{Resource: "old-ready.go", Status: "ready", UpdatedAt: old})

	n, err := st.PruneResources(ctx, "unattached", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneResources: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1 (only stale unattached)", n)
	}
	recs, _ := st.ListResources(ctx)
	if len(recs) != 2 {
		t.Fatalf("remaining = %d, want 2", len(recs))
	}
}

func TestDedupJournalReplay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "key1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	_ = st.Close()

	st = openTestStore(t, dir)
	defer st.Close()
	got, ok, err := st.GetDedup(ctx, "key1")
	if err != nil || !ok {
		t.Fatalf("GetDedup = (%v, %v, %v)", got, ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}
}

func TestPruneDedup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestStore(t, dir)
	defer st.Close()

	_ = st.PutDedup(ctx, "expired", time.Now().Add(-time.Minute))
	_ = st.PutDedup(ctx, "live", time.Now().Add(time.Hour))

	n, err := st.PruneDedup(ctx, time.Now())
	if err != nil {
		t.Fatalf("PruneDedup: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if _, ok, _ := st.GetDedup(ctx, "live"); !ok {
		t.Fatal("live entry must survive prune")
	}
}
