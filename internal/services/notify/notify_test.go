package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"streambot/internal/kit"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	block chan struct{} // if non-nil, SendText waits on it
}

func (f *fakeAdapter) Start(ctx context.Context, updates chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                             { return nil }
func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opts *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, target kit.ChatTarget, text string, opts *kit.SendOptions) (kit.MessageRef, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: target.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, &fakeAdapter{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); err != ErrDisabled {
		t.Fatalf("Notify = %v, want ErrDisabled", err)
	}
}

func TestNotifyBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &fakeAdapter{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); err != ErrStopped {
		t.Fatalf("Notify before Start = %v, want ErrStopped", err)
	}
}

func TestNotifyDeliversWithPriorityPrefix(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 1000}, ad, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Start(context.Background())

	if err := s.Notify(context.Background(), kit.Notification{Text: "hello", Priority: 9}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := s.Notify(context.Background(), kit.Notification{Text: "plain"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	got := ad.texts()
	if len(got) != 2 {
		t.Fatalf("sent = %d messages, want 2: %v", len(got), got)
	}
	if got[0] != "🚨 hello" {
		t.Fatalf("high-priority text = %q, want prefix", got[0])
	}
	if got[1] != "plain" {
		t.Fatalf("default-priority text = %q, want no prefix", got[1])
	}
	if hist := s.Snapshot(); len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	ad := &fakeAdapter{block: block}
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 1, RatePerSec: 1000}, ad, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Start(context.Background())
	defer func() {
		close(block)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	// First fills the worker, the next fills the queue; eventually full.
	var sawFull bool
	for i := 0; i < 5; i++ {
		if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); err == ErrQueueFull {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Fatal("expected ErrQueueFull with a blocked worker and queue size 1")
	}
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1}, &fakeAdapter{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); err != ErrStopped {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
}
