package streams

// Config is the per-plugin config blob.
type Config struct {
	// Channels is a space-separated list of channel logins to watch.
	Channels string `json:"channels"`

	ClientID string `json:"client_id"`
	Token    string `json:"token"`

	// Interval between poll cycles, Go duration string. Default "60s".
	Interval string `json:"interval,omitempty"`

	// Transport: "auto" (default), "http", or "curl".
	Transport string `json:"transport,omitempty"`

	// BaseURL overrides the API endpoint (used in tests).
	BaseURL string `json:"base_url,omitempty"`

	// Notify is the persistent status chat that receives transition alerts.
	Notify NotifyTarget `json:"notify"`
}

type NotifyTarget struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// ChannelState is the per-channel poll state.
type ChannelState int

const (
	// StateOffline is the implicit initial state.
	StateOffline ChannelState = iota
	StateOnline
	// StateWasOnline is a transient marker used only inside one sweep.
	StateWasOnline
)

// Transition is one emitted state change.
type Transition struct {
	Name   string
	Online bool
}
