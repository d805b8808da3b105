// Package streams watches a configured set of Twitch channels and sends
// exactly one notification per online/offline transition. Each poll cycle
// resolves the configured logins to the currently-live subset with chunked
// API lookups, then a mark-and-sweep diff over the channel registry turns
// the snapshot into transition events.
package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streambot/internal/core"
	"streambot/internal/kit"
	"streambot/pkg/helix"
)

const defaultInterval = 60 * time.Second

// resolver is the poll-cycle API dependency (implemented by *helix.Client).
type resolver interface {
	ResolveLive(ctx context.Context, logins []string) []string
}

// pollResult is one finished cycle, handed from the poll job to the tracker
// goroutine over a bounded channel. The tracker is the only registry writer.
type pollResult struct {
	live []string
}

type Plugin struct {
	core.PluginBase

	mu       sync.RWMutex
	cfg      Config
	interval time.Duration
	client   resolver
	tracker  *Tracker

	results chan pollResult
}

func New() *Plugin {
	return &Plugin{
		tracker: NewTracker(),
		results: make(chan pollResult, 4),
	}
}

func (p *Plugin) Name() string { return "streams" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.Runner.Go0("tracker", p.consumeLoop)
	// First cycle fires immediately; the schedule covers the rest.
	p.Runner.Go("initial-poll", p.pollOnce)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	if p.Deps.Services != nil && p.Deps.Services.Scheduler != nil {
		p.Deps.Services.Scheduler.Remove("streams:poll")
	}
	return p.StopBase(ctx)
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	if c.Interval != "" {
		d, err := time.ParseDuration(c.Interval)
		if err != nil {
			return fmt.Errorf("interval: %w", err)
		}
		if d < time.Second {
			return fmt.Errorf("interval %s too short (min 1s)", d)
		}
	}
	if _, err := helix.NewTransport(c.Transport); err != nil {
		return err
	}
	if c.Channels != "" && (c.ClientID == "" || c.Token == "") {
		return fmt.Errorf("client_id and token are required when channels are configured")
	}
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}

	interval := defaultInterval
	if c.Interval != "" {
		d, err := time.ParseDuration(c.Interval)
		if err != nil {
			return fmt.Errorf("interval: %w", err)
		}
		interval = d
	}

	tr, err := helix.NewTransport(c.Transport)
	if err != nil {
		return err
	}
	client := helix.New(helix.Config{
		BaseURL:   c.BaseURL,
		Creds:     helix.Credentials{ClientID: c.ClientID, Token: c.Token},
		Transport: tr,
	}, p.Log)

	names := ParseChannelList(c.Channels)
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}

	p.mu.Lock()
	p.cfg = c
	p.interval = interval
	p.client = client
	removed := p.tracker.Prune(keep)
	p.mu.Unlock()

	if removed > 0 {
		p.Log.Info("pruned deconfigured channels", slog.Int("count", removed))
	}

	// Re-registering under the same id replaces the previous schedule.
	// A cycle whose predecessor is still running is skipped, not stacked.
	if _, err := p.Every("poll", interval, interval, p.pollOnce); err != nil {
		return fmt.Errorf("register poll schedule: %w", err)
	}
	kind := c.Transport
	if kind == "" {
		kind = "auto"
	}
	p.Log.Info("configured", slog.Int("channels", len(names)), slog.Duration("interval", interval), slog.String("transport", kind))
	return nil
}

// pollOnce runs one full resolution cycle and hands the finished live set
// to the tracker goroutine. It never mutates the registry itself.
func (p *Plugin) pollOnce(ctx context.Context) error {
	p.mu.RLock()
	cfg := p.cfg
	client := p.client
	p.mu.RUnlock()

	names := ParseChannelList(cfg.Channels)
	if len(names) == 0 || client == nil {
		return nil
	}

	live := client.ResolveLive(ctx, names)

	select {
	case p.results <- pollResult{live: live}:
	default:
		p.Log.Warn("poll result dropped (tracker backlog full)", slog.Int("live", len(live)))
	}
	return nil
}

func (p *Plugin) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-p.results:
			p.applyResult(ctx, r)
		}
	}
}

func (p *Plugin) applyResult(ctx context.Context, r pollResult) {
	p.mu.Lock()
	transitions := p.tracker.Apply(r.live)
	target := p.cfg.Notify
	p.mu.Unlock()

	if len(transitions) == 0 {
		return
	}
	p.Log.Info("state changes", slog.Int("count", len(transitions)), slog.Int("live", len(r.live)))

	targets := p.notifyTargets(ctx, target)
	for _, tr := range transitions {
		text := transitionText(tr)
		for _, tgt := range targets {
			err := p.Notify(ctx, kit.Notification{
				Channel:  "telegram",
				Target:   tgt,
				Text:     text,
				Options:  &kit.SendOptions{DisablePreview: true},
				Priority: 0,
			})
			if err != nil {
				p.Log.Warn("transition notification failed", slog.String("channel", tr.Name), slog.Int64("chat_id", tgt.ChatID), slog.Any("err", err))
			}
		}
	}
}

// notifyTargets is the configured status chat plus stored subscribers,
// deduplicated by chat+thread.
func (p *Plugin) notifyTargets(ctx context.Context, status NotifyTarget) []kit.ChatTarget {
	var out []kit.ChatTarget
	seen := map[kit.ChatTarget]struct{}{}
	add := func(t kit.ChatTarget) {
		if t.ChatID == 0 {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	add(kit.ChatTarget{ChatID: status.ChatID, ThreadID: status.ThreadID})

	if p.Deps.Store != nil {
		subs, err := p.Deps.Store.Subscribers(ctx, p.Name())
		if err != nil {
			p.Log.Warn("subscriber lookup failed", slog.Any("err", err))
		}
		for _, s := range subs {
			add(kit.ChatTarget{ChatID: s.ChatID, ThreadID: s.ThreadID})
		}
	}
	return out
}

func transitionText(tr Transition) string {
	if tr.Online {
		return fmt.Sprintf("%s now online\nhttps://twitch.tv/%s", tr.Name, tr.Name)
	}
	return fmt.Sprintf("%s now offline", tr.Name)
}
