package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			s.execute(ctx, t)
		}
	}
}

func (s *Service) execute(ctx context.Context, t task) {
	if t.opt.Overlap == OverlapSkipIfRunning {
		t.state.mu.Lock()
		if t.state.running {
			t.state.mu.Unlock()
			s.log.Debug("schedule skipped (previous run still running)", slog.String("id", t.id), slog.String("name", t.name))
			return
		}
		t.state.running = true
		t.state.mu.Unlock()
		defer func() {
			t.state.mu.Lock()
			t.state.running = false
			t.state.mu.Unlock()
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, s.resolveTimeout(t.timeout))
	defer cancel()

	started := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("panic in scheduled job", slog.String("id", t.id), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			}
		}()
		return t.run(runCtx)
	}()
	dur := time.Since(started)

	if err != nil {
		s.log.Warn("scheduled job failed", slog.String("id", t.id), slog.String("name", t.name), slog.Duration("dur", dur), slog.Any("err", err))
	} else {
		s.log.Debug("scheduled job done", slog.String("id", t.id), slog.Duration("dur", dur))
	}
	s.appendHistory(t, started, dur, err)
}

func (s *Service) appendHistory(t task, started time.Time, dur time.Duration, err error) {
	size := s.cfg.HistorySize
	if size <= 0 {
		size = 50
	}
	item := HistoryItem{ID: t.id, Name: t.name, Started: started, Duration: dur}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if over := len(s.history) - size; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.hmu.Unlock()
}
