package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"streambot/pkg/logx"
)

// fileStore keeps everything in one JSON snapshot, rewritten atomically on
// every mutation. Fine for the handful of subscribers a bot carries.
type fileStore struct {
	path string
	log  logx.Logger

	mu   sync.Mutex
	data fileData
}

type fileData struct {
	Subscribers map[string][]Subscriber `json:"subscribers"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("file storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{path: cfg.Path, log: log}
	st.data.Subscribers = map[string][]Subscriber{}

	b, err := os.ReadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fresh store
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &st.data); err != nil {
			// A corrupt snapshot should not brick the bot; start fresh.
			log.Warn("storage snapshot unreadable; starting empty", logx.String("path", cfg.Path), logx.Err(err))
			st.data = fileData{Subscribers: map[string][]Subscriber{}}
		}
		if st.data.Subscribers == nil {
			st.data.Subscribers = map[string][]Subscriber{}
		}
	}
	return st, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) AddSubscriber(ctx context.Context, plugin string, sub Subscriber) error {
	if s == nil {
		return ErrDisabled
	}
	if sub.At.IsZero() {
		sub.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data.Subscribers[plugin]
	for _, cur := range list {
		if cur.ChatID == sub.ChatID && cur.ThreadID == sub.ThreadID {
			return nil // already subscribed
		}
	}
	s.data.Subscribers[plugin] = append(list, sub)
	return s.persistLocked()
}

func (s *fileStore) RemoveSubscriber(ctx context.Context, plugin string, chatID int64, threadID int) (bool, error) {
	if s == nil {
		return false, ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data.Subscribers[plugin]
	n := 0
	removed := false
	for _, cur := range list {
		if cur.ChatID == chatID && cur.ThreadID == threadID {
			removed = true
			continue
		}
		list[n] = cur
		n++
	}
	if !removed {
		return false, nil
	}
	s.data.Subscribers[plugin] = list[:n]
	return true, s.persistLocked()
}

func (s *fileStore) Subscribers(ctx context.Context, plugin string) ([]Subscriber, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Subscriber(nil), s.data.Subscribers[plugin]...), nil
}

// persistLocked writes the snapshot via temp file + rename so readers never
// observe a partial write. Call with s.mu held.
func (s *fileStore) persistLocked() error {
	b, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
