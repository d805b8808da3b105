package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"
)

// ConfigValidatorFunc validates a candidate config before it is committed
// and published to subscribers. Returning an error keeps the previous config.
type ConfigValidatorFunc func(ctx context.Context, cfg *Config) error

type ConfigManager struct {
	path string

	mu        sync.RWMutex
	cfg       *Config
	subs      []chan *Config
	log       *slog.Logger
	validator ConfigValidatorFunc
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

func (m *ConfigManager) SetLogger(log *slog.Logger) {
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

func (m *ConfigManager) SetValidator(v ConfigValidatorFunc) {
	m.mu.Lock()
	m.validator = v
	m.mu.Unlock()
}

// Load reads and parses the config file. YAML files are converted through
// JSON so per-plugin blobs stay json.RawMessage regardless of source format.
func (m *ConfigManager) Load() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(m.path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("config yaml: %w", err)
		}
		b, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("config yaml->json: %w", err)
		}
	}

	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	m.mu.Lock()
	m.cfg = &cfg
	m.mu.Unlock()
	return &cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) Subscribe(buffer int) <-chan *Config {
	ch := make(chan *Config, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(sub <-chan *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ch := range m.subs {
		if ch == sub {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.mu.RLock()
	subs := append([]chan *Config{}, m.subs...)
	m.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
			// drop for slow subscribers; they coalesce on the next reload
		}
	}
}

// Watch follows the config file (via its directory, so editor rename-writes
// are seen) and publishes validated reloads until ctx is done.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	// debounce to avoid reacting to partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			m.reload(ctx)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.Events:
			if ev.Name == filepath.Join(dir, file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			}
		case <-w.Errors:
			// keep watching
		}
	}
}

func (m *ConfigManager) reload(ctx context.Context) {
	m.mu.RLock()
	log := m.log
	validator := m.validator
	prev := m.cfg
	m.mu.RUnlock()

	cfg, err := m.Load()
	if err != nil {
		if log != nil {
			log.Warn("config reload failed; keeping previous", slog.Any("err", err))
		}
		m.mu.Lock()
		m.cfg = prev
		m.mu.Unlock()
		return
	}
	if validator != nil {
		if err := validator(ctx, cfg); err != nil {
			if log != nil {
				log.Warn("config rejected by validation; keeping previous", slog.Any("err", err))
			}
			m.mu.Lock()
			m.cfg = prev
			m.mu.Unlock()
			return
		}
	}
	m.publish(cfg)
}
