package streams

import (
	"context"
	"fmt"
	"strings"
	"time"

	"streambot/internal/core"
	"streambot/internal/kit"
	"streambot/internal/storage"
)

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "live",
			Description: "list channels currently live",
			Usage:       "/live",
			Access:      core.AccessEveryone,
			Handle:      p.cmdLive,
		},
		{
			Route:       "streams status",
			Description: "watcher status",
			Usage:       "/streams status",
			Access:      core.AccessEveryone,
			Handle:      p.cmdStatus,
		},
		{
			Route:       "streams check",
			Description: "run a poll cycle now",
			Usage:       "/streams check",
			Access:      core.AccessOwnerOnly,
			Timeout:     30 * time.Second,
			Handle:      p.cmdCheck,
		},
		{
			Route:       "streams subscribe",
			Description: "receive stream alerts in this chat",
			Usage:       "/streams subscribe",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdSubscribe,
		},
		{
			Route:       "streams unsubscribe",
			Description: "stop stream alerts in this chat",
			Usage:       "/streams unsubscribe",
			Access:      core.AccessOwnerOnly,
			Handle:      p.cmdUnsubscribe,
		},
	}
}

func (p *Plugin) cmdLive(ctx context.Context, req *core.Request) error {
	p.mu.RLock()
	online := p.tracker.Online()
	p.mu.RUnlock()

	if len(online) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "no channels live right now", nil)
		return err
	}
	var b strings.Builder
	b.WriteString("live now:\n")
	for _, name := range online {
		fmt.Fprintf(&b, "https://twitch.tv/%s\n", name)
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, b.String(), &kit.SendOptions{DisablePreview: true})
	return err
}

func (p *Plugin) cmdStatus(ctx context.Context, req *core.Request) error {
	p.mu.RLock()
	cfg := p.cfg
	interval := p.interval
	online := len(p.tracker.Online())
	tracked := p.tracker.Len()
	p.mu.RUnlock()

	watched := len(ParseChannelList(cfg.Channels))

	var b strings.Builder
	fmt.Fprintf(&b, "watching %d channels, %d live, %d tracked\n", watched, online, tracked)
	fmt.Fprintf(&b, "interval: %s\n", interval)
	if svc := p.Deps.Services; svc != nil {
		if svc.Scheduler != nil && svc.Scheduler.Enabled() {
			for _, sch := range svc.Scheduler.Snapshot().Schedules {
				if sch.ID != "streams:poll" {
					continue
				}
				if !sch.Prev.IsZero() {
					fmt.Fprintf(&b, "last poll: %s\n", sch.Prev.Format(time.TimeOnly))
				}
				if !sch.Next.IsZero() {
					fmt.Fprintf(&b, "next poll: %s\n", sch.Next.Format(time.TimeOnly))
				}
			}
		}
		if svc.Notifier != nil {
			fmt.Fprintf(&b, "alerts sent: %d\n", len(svc.Notifier.Snapshot()))
		}
	}
	if p.Deps.Store != nil {
		if subs, err := p.Deps.Store.Subscribers(ctx, p.Name()); err == nil {
			fmt.Fprintf(&b, "subscribers: %d\n", len(subs))
		}
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, b.String(), nil)
	return err
}

func (p *Plugin) cmdCheck(ctx context.Context, req *core.Request) error {
	if err := p.pollOnce(ctx); err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "poll cycle failed: "+err.Error(), nil)
		return err
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, "poll cycle done", nil)
	return err
}

func (p *Plugin) cmdSubscribe(ctx context.Context, req *core.Request) error {
	if p.Deps.Store == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "storage is disabled", nil)
		return err
	}
	sub := storage.Subscriber{
		ChatID:   req.Chat.ChatID,
		ThreadID: req.Chat.ThreadID,
		AddedBy:  req.FromID,
		At:       time.Now(),
	}
	if err := p.Deps.Store.AddSubscriber(ctx, p.Name(), sub); err != nil {
		return err
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, "subscribed: this chat will receive stream alerts", nil)
	return err
}

func (p *Plugin) cmdUnsubscribe(ctx context.Context, req *core.Request) error {
	if p.Deps.Store == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "storage is disabled", nil)
		return err
	}
	removed, err := p.Deps.Store.RemoveSubscriber(ctx, p.Name(), req.Chat.ChatID, req.Chat.ThreadID)
	if err != nil {
		return err
	}
	msg := "this chat was not subscribed"
	if removed {
		msg = "unsubscribed"
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, msg, nil)
	return err
}
