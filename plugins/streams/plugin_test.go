package streams

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"streambot/internal/core"
	"streambot/internal/kit"
	"streambot/internal/services/notify"
	"streambot/internal/services/scheduler"
)

type fakeResolver struct {
	mu   sync.Mutex
	live []string
}

func (f *fakeResolver) ResolveLive(ctx context.Context, logins []string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.live...)
}

func (f *fakeResolver) setLive(live ...string) {
	f.mu.Lock()
	f.live = live
	f.mu.Unlock()
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n kit.Notification) error {
	f.mu.Lock()
	f.sent = append(f.sent, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Text)
	}
	return out
}

func (f *fakeNotifier) Snapshot() []notify.HistoryItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notify.HistoryItem, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, notify.HistoryItem{Text: n.Text})
	}
	return out
}

type fakeScheduler struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	next      time.Time
	prev      time.Time
}

func (f *fakeScheduler) Enabled() bool { return true }

func (f *fakeScheduler) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	if f.intervals == nil {
		f.intervals = map[string]time.Duration{}
	}
	f.intervals[name] = every
	f.mu.Unlock()
	return name, nil
}

func (f *fakeScheduler) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return name, nil
}

func (f *fakeScheduler) Remove(name string) bool { return true }

func (f *fakeScheduler) Snapshot() scheduler.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := scheduler.Snapshot{Enabled: true}
	for id := range f.intervals {
		snap.Schedules = append(snap.Schedules, scheduler.ScheduleInfo{ID: id, Next: f.next, Prev: f.prev})
	}
	return snap
}

func newTestPlugin(t *testing.T) (*Plugin, *fakeResolver, *fakeNotifier, *fakeScheduler) {
	t.Helper()
	p := New()
	rs := &fakeResolver{}
	nt := &fakeNotifier{}
	sc := &fakeScheduler{}
	deps := core.PluginDeps{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Services: &core.Services{Scheduler: sc, Notifier: nt},
	}
	if err := p.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	p.cfg = Config{Channels: "a b c", Notify: NotifyTarget{ChatID: 42}}
	p.client = rs
	return p, rs, nt, sc
}

// runCycle mimics one scheduler firing plus the tracker pass, without the
// background goroutines.
func runCycle(t *testing.T, p *Plugin) {
	t.Helper()
	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	select {
	case r := <-p.results:
		p.applyResult(context.Background(), r)
	default:
		t.Fatal("pollOnce produced no result")
	}
}

func TestCycleEmitsOnlineThenOffline(t *testing.T) {
	t.Parallel()
	p, rs, nt, _ := newTestPlugin(t)

	rs.setLive("a")
	runCycle(t, p)

	got := nt.texts()
	if len(got) != 1 || !strings.HasPrefix(got[0], "a now online") {
		t.Fatalf("after first cycle sent = %v, want one 'a now online'", got)
	}
	if !strings.Contains(got[0], "https://twitch.tv/a") {
		t.Fatalf("online notification missing channel URL: %q", got[0])
	}
	if nt.sent[0].Target.ChatID != 42 {
		t.Fatalf("notification target = %d, want 42", nt.sent[0].Target.ChatID)
	}

	// steady state: no further notifications
	runCycle(t, p)
	runCycle(t, p)
	if got := nt.texts(); len(got) != 1 {
		t.Fatalf("steady state produced extra notifications: %v", got)
	}

	rs.setLive()
	runCycle(t, p)
	got = nt.texts()
	if len(got) != 2 || got[1] != "a now offline" {
		t.Fatalf("after drop cycle sent = %v, want trailing 'a now offline'", got)
	}
}

func TestCycleSkippedWithoutChannels(t *testing.T) {
	t.Parallel()
	p, _, nt, _ := newTestPlugin(t)
	p.cfg.Channels = ""

	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	select {
	case <-p.results:
		t.Fatal("cycle without configured channels must not produce a result")
	default:
	}
	if len(nt.texts()) != 0 {
		t.Fatalf("unexpected notifications: %v", nt.texts())
	}
}

func TestOnConfigChangeRegistersScheduleAndPrunes(t *testing.T) {
	t.Parallel()
	p, rs, _, sc := newTestPlugin(t)

	// get a and b tracked first
	rs.setLive("a", "b")
	runCycle(t, p)

	raw := json.RawMessage(`{"channels":"a","client_id":"id","token":"tok","interval":"30s","notify":{"chat_id":42}}`)
	if err := p.OnConfigChange(context.Background(), raw); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}

	sc.mu.Lock()
	every := sc.intervals["streams:poll"]
	sc.mu.Unlock()
	if every != 30*time.Second {
		t.Fatalf("poll interval = %s, want 30s", every)
	}
	if p.tracker.Len() != 1 {
		t.Fatalf("registry size after prune = %d, want 1", p.tracker.Len())
	}
}

type statusAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *statusAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *statusAdapter) Stop(ctx context.Context) error                         { return nil }
func (a *statusAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (a *statusAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (a *statusAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	return kit.MessageRef{}, nil
}

func TestStatusCommandReportsScheduleAndAlerts(t *testing.T) {
	t.Parallel()
	p, rs, _, sc := newTestPlugin(t)

	rs.setLive("a")
	runCycle(t, p)

	sc.mu.Lock()
	sc.intervals = map[string]time.Duration{"streams:poll": time.Minute}
	sc.prev = time.Now().Add(-time.Minute)
	sc.next = time.Now().Add(time.Minute)
	sc.mu.Unlock()

	ad := &statusAdapter{}
	req := &core.Request{Chat: kit.ChatTarget{ChatID: 7}, Adapter: ad}
	if err := p.cmdStatus(context.Background(), req); err != nil {
		t.Fatalf("cmdStatus: %v", err)
	}
	if len(ad.sent) != 1 {
		t.Fatalf("status sent %d messages, want 1", len(ad.sent))
	}
	out := ad.sent[0]
	for _, want := range []string{"1 live", "last poll:", "next poll:", "alerts sent: 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	p, _, _, _ := newTestPlugin(t)

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"channels":"a","client_id":"id","token":"tok"}`, false},
		{"empty blob ok", ``, false},
		{"bad interval", `{"channels":"a","client_id":"id","token":"tok","interval":"soon"}`, true},
		{"interval too short", `{"channels":"a","client_id":"id","token":"tok","interval":"100ms"}`, true},
		{"unknown transport", `{"channels":"a","client_id":"id","token":"tok","transport":"pigeon"}`, true},
		{"channels without creds", `{"channels":"a"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateConfig(context.Background(), json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateConfig(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}
