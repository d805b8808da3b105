package helix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Credentials are attached to every request. Both transports send them the
// same way: a Client-ID header and a bearer Authorization header.
type Credentials struct {
	ClientID string
	Token    string
}

// Transport performs one authenticated GET and returns the raw body.
// Implementations must produce the same logical response shape so the
// client can treat them interchangeably.
type Transport interface {
	Get(ctx context.Context, url string, creds Credentials) ([]byte, error)
}

// NewTransport selects a transport by config value.
//
//	"http", "auto", "" -> native HTTP client
//	"curl"             -> curl subprocess
func NewTransport(kind string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "auto", "http":
		return &HTTPTransport{}, nil
	case "curl":
		return &CurlTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (supported: auto, http, curl)", kind)
	}
}

// HTTPTransport uses net/http with its default TLS stack.
type HTTPTransport struct {
	// Client overrides the default client (8s timeout) when set.
	Client *http.Client
}

func (t *HTTPTransport) Get(ctx context.Context, url string, creds Credentials) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-ID", creds.ClientID)
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(b), 200))
	}
	return b, nil
}

// CurlTransport shells out to curl with equivalent headers. Useful on hosts
// where the native TLS stack is unavailable or broken.
type CurlTransport struct {
	// Path to the curl binary; "curl" (from PATH) when empty.
	Path string
}

func (t *CurlTransport) Get(ctx context.Context, url string, creds Credentials) ([]byte, error) {
	bin := t.Path
	if bin == "" {
		bin = "curl"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-sS", "--fail-with-body",
		"-H", "Client-ID: "+creds.ClientID,
		"-H", "Authorization: Bearer "+creds.Token,
		url,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("curl exit %d: %s", exitErr.ExitCode(), truncate(stderr.String(), 200))
		}
		return nil, fmt.Errorf("curl spawn: %w", err)
	}
	return stdout.Bytes(), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
