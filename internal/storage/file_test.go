package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"streambot/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	if err := st.AddSubscriber(ctx, "streams", Subscriber{ChatID: 100, AddedBy: 1}); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	// duplicate add is a no-op
	if err := st.AddSubscriber(ctx, "streams", Subscriber{ChatID: 100}); err != nil {
		t.Fatalf("AddSubscriber dup: %v", err)
	}
	if err := st.AddSubscriber(ctx, "streams", Subscriber{ChatID: 200, ThreadID: 7}); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}

	subs, err := st.Subscribers(ctx, "streams")
	if err != nil {
		t.Fatalf("Subscribers: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("subscriber count = %d, want 2", len(subs))
	}

	// survives reopen
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	subs, err = st2.Subscribers(ctx, "streams")
	if err != nil {
		t.Fatalf("Subscribers after reopen: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("subscriber count after reopen = %d, want 2", len(subs))
	}

	removed, err := st2.RemoveSubscriber(ctx, "streams", 100, 0)
	if err != nil || !removed {
		t.Fatalf("RemoveSubscriber = (%v, %v), want (true, nil)", removed, err)
	}
	removed, err = st2.RemoveSubscriber(ctx, "streams", 100, 0)
	if err != nil || removed {
		t.Fatalf("second RemoveSubscriber = (%v, %v), want (false, nil)", removed, err)
	}
}

func TestFileStoreCorruptSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open with corrupt snapshot: %v", err)
	}
	subs, err := st.Subscribers(context.Background(), "streams")
	if err != nil {
		t.Fatalf("Subscribers: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected empty store, got %d subscribers", len(subs))
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
