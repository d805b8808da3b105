package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"streambot/internal/kit"
)

type captureAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (c *captureAdapter) Stop(ctx context.Context) error                         { return nil }
func (c *captureAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (c *captureAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (c *captureAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (c *captureAdapter) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func msgUpdate(chatID, fromID int64, text string) kit.Update {
	return kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: chatID, FromID: fromID, Text: text},
	}
}

// drainJob runs the single queued command job synchronously.
func drainJob(t *testing.T, m *CommandManager) {
	t.Helper()
	select {
	case job := <-m.jobs:
		job()
	default:
		t.Fatal("no job was enqueued")
	}
}

func newTestCommandManager(owners []int64) (*CommandManager, *captureAdapter) {
	ad := &captureAdapter{}
	m := NewCommandManager(slog.New(slog.NewTextHandler(io.Discard, nil)), ad, NewConfigManager(""), &Services{}, owners)
	return m, ad
}

func TestRouteSubcommandAndArgs(t *testing.T) {
	t.Parallel()
	m, ad := newTestCommandManager(nil)

	var gotArgs []string
	m.SetRegistry([]Command{{
		Route: "streams status",
		Handle: func(ctx context.Context, req *Request) error {
			gotArgs = req.Args
			_, _ = req.Adapter.SendText(ctx, req.Chat, "ok", nil)
			return nil
		},
	}})

	m.routeUpdate(context.Background(), msgUpdate(1, 2, "/streams status verbose"))
	drainJob(t, m)

	if len(gotArgs) != 1 || gotArgs[0] != "verbose" {
		t.Fatalf("args = %v, want [verbose]", gotArgs)
	}
	if got := ad.texts(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("sent = %v, want [ok]", got)
	}
}

func TestRouteAutoAliasForMultiTokenRoute(t *testing.T) {
	t.Parallel()
	m, _ := newTestCommandManager(nil)

	ran := false
	m.SetRegistry([]Command{{
		Route:  "streams status",
		Handle: func(ctx context.Context, req *Request) error { ran = true; return nil },
	}})

	m.routeUpdate(context.Background(), msgUpdate(1, 2, "/streams_status"))
	drainJob(t, m)
	if !ran {
		t.Fatal("auto alias streams_status did not dispatch")
	}
}

func TestRouteStripsBotMention(t *testing.T) {
	t.Parallel()
	m, _ := newTestCommandManager(nil)

	ran := false
	m.SetRegistry([]Command{{
		Route:  "live",
		Handle: func(ctx context.Context, req *Request) error { ran = true; return nil },
	}})

	m.routeUpdate(context.Background(), msgUpdate(1, 2, "/live@somebot"))
	drainJob(t, m)
	if !ran {
		t.Fatal("/live@bot did not dispatch")
	}
}

func TestOwnerOnlyCommandRejected(t *testing.T) {
	t.Parallel()
	m, ad := newTestCommandManager([]int64{99})

	m.SetRegistry([]Command{{
		Route:  "secret",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error { t.Fatal("must not run"); return nil },
	}})

	m.routeUpdate(context.Background(), msgUpdate(1, 2, "/secret"))
	if got := ad.texts(); len(got) != 1 || got[0] != "unauthorized" {
		t.Fatalf("sent = %v, want [unauthorized]", got)
	}

	// owner passes
	ran := false
	m.SetRegistry([]Command{{
		Route:  "secret",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error { ran = true; return nil },
	}})
	m.routeUpdate(context.Background(), msgUpdate(1, 99, "/secret"))
	drainJob(t, m)
	if !ran {
		t.Fatal("owner was rejected")
	}
}

func TestUnknownCommandReplies(t *testing.T) {
	t.Parallel()
	m, ad := newTestCommandManager(nil)
	m.SetRegistry(nil)

	m.routeUpdate(context.Background(), msgUpdate(1, 2, "/nosuch"))
	if got := ad.texts(); len(got) != 1 || got[0] != "unknown command. try /help" {
		t.Fatalf("sent = %v", got)
	}
}

func TestNonCommandTextIgnored(t *testing.T) {
	t.Parallel()
	m, ad := newTestCommandManager(nil)
	m.SetRegistry(nil)

	m.routeUpdate(context.Background(), msgUpdate(1, 2, "hello there"))
	if got := ad.texts(); len(got) != 0 {
		t.Fatalf("sent = %v, want none", got)
	}
}
