package helix

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the production Helix endpoint.
	DefaultBaseURL = "https://api.twitch.tv/helix"

	// MaxPerRequest is the API's limit on repeated query parameters.
	MaxPerRequest = 100
)

type Config struct {
	BaseURL   string
	Creds     Credentials
	Transport Transport
}

type Client struct {
	base  string
	creds Credentials
	tr    Transport
	log   *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	tr := cfg.Transport
	if tr == nil {
		tr = &HTTPTransport{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{base: base, creds: cfg.Creds, tr: tr, log: log}
}

// ResolveLive maps channel logins to the subset currently live, in two
// chunked stages: logins -> user ids, then ids -> live logins. A chunk that
// fails contributes nothing; the rest of the cycle proceeds.
func (c *Client) ResolveLive(ctx context.Context, logins []string) []string {
	ids := c.UserIDs(ctx, logins)
	return c.LiveLogins(ctx, ids)
}

// UserIDs resolves logins to opaque user ids via GET /users.
func (c *Client) UserIDs(ctx context.Context, logins []string) []string {
	var out []string
	for _, part := range chunk(logins, MaxPerRequest) {
		q := url.Values{}
		for _, l := range part {
			q.Add("login", l)
		}
		body, err := c.tr.Get(ctx, c.base+"/users?"+q.Encode(), c.creds)
		if err != nil {
			c.log.Warn("user lookup chunk failed", slog.Int("size", len(part)), slog.Any("err", err))
			continue
		}
		var resp struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			c.log.Warn("user lookup chunk undecodable", slog.Int("size", len(part)), slog.Any("err", err))
			continue
		}
		for _, u := range resp.Data {
			if u.ID != "" {
				out = append(out, u.ID)
			}
		}
	}
	return out
}

// LiveLogins resolves user ids to the logins of channels currently live via
// GET /streams. Logins are lowercased at ingestion; output order follows
// chunk processing order.
func (c *Client) LiveLogins(ctx context.Context, ids []string) []string {
	var out []string
	for _, part := range chunk(ids, MaxPerRequest) {
		q := url.Values{}
		for _, id := range part {
			q.Add("user_id", id)
		}
		q.Set("first", "100")
		body, err := c.tr.Get(ctx, c.base+"/streams?"+q.Encode(), c.creds)
		if err != nil {
			c.log.Warn("stream lookup chunk failed", slog.Int("size", len(part)), slog.Any("err", err))
			continue
		}
		var resp struct {
			Data []struct {
				UserLogin string `json:"user_login"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			c.log.Warn("stream lookup chunk undecodable", slog.Int("size", len(part)), slog.Any("err", err))
			continue
		}
		for _, s := range resp.Data {
			if s.UserLogin != "" {
				out = append(out, strings.ToLower(s.UserLogin))
			}
		}
	}
	return out
}

// chunk splits ss into batches of at most n, preserving order.
func chunk(ss []string, n int) [][]string {
	if n <= 0 || len(ss) == 0 {
		return nil
	}
	var out [][]string
	for len(ss) > n {
		out = append(out, ss[:n])
		ss = ss[n:]
	}
	return append(out, ss)
}
