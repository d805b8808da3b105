// Package echo is a minimal plugin, mostly useful as a liveness check and
// as the smallest example of the plugin surface.
package echo

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"streambot/internal/core"
)

type Config struct {
	Prefix string `json:"prefix"`
}

type Plugin struct {
	log  *slog.Logger
	cfg  Config
	deps core.PluginDeps
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "echo" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.deps = deps
	p.log = deps.Logger.With(slog.String("plugin", p.Name()))
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	p.cfg = c
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return nil }

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "echo",
			Description: "echo back text",
			Usage:       "/echo <text>",
			Access:      core.AccessEveryone,
			Handle: func(ctx context.Context, req *core.Request) error {
				txt := strings.Join(req.Args, " ")
				if txt == "" {
					txt = "(empty)"
				}
				_, _ = req.Adapter.SendText(ctx, req.Chat, p.cfg.Prefix+txt, nil)
				return nil
			},
		},
	}
}
