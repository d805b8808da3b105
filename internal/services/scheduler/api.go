package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// AddInterval registers a job that fires every d. The id must be unique;
// re-adding an existing id replaces the old schedule.
func (s *Service) AddInterval(id, name string, d time.Duration, timeout time.Duration, job func(ctx context.Context) error) error {
	return s.AddIntervalOpt(id, name, d, timeout, TaskOptions{}, job)
}

func (s *Service) AddIntervalOpt(id, name string, d time.Duration, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %s", d)
	}
	return s.add(id, name, fmt.Sprintf("@every %s", d), timeout, opt, job)
}

// AddCron registers a job on a cron spec (5-field, 6-field with seconds,
// or a descriptor like @hourly).
func (s *Service) AddCron(id, name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	return s.AddCronOpt(id, name, spec, timeout, TaskOptions{}, job)
}

func (s *Service) AddCronOpt(id, name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return fmt.Errorf("empty cron spec")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return s.add(id, name, spec, timeout, opt, job)
}

func (s *Service) add(id, name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("empty schedule id")
	}
	if job == nil {
		return fmt.Errorf("nil job for schedule %q", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeScheduleLocked(id)
	s.defs = append(s.defs, scheduleDef{
		id:      id,
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &runState{},
	})
	if s.c != nil {
		return s.addCronLocked(&s.defs[len(s.defs)-1])
	}
	return nil
}

// Remove drops a schedule by id. Returns false if the id is unknown.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeScheduleLocked(id)
}

func (s *Service) removeScheduleLocked(id string) bool {
	for i := range s.defs {
		if s.defs[i].id != id {
			continue
		}
		if s.c != nil && s.defs[i].entryID != 0 {
			s.c.Remove(s.defs[i].entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// addCronLocked registers def with the running cron instance. The cron
// callback only enqueues; execution happens on the worker pool.
func (s *Service) addCronLocked(def *scheduleDef) error {
	// Copy fields into the closure: def points into s.defs, which may be
	// reallocated by a later append.
	id, name, timeout, job, opt, state := def.id, def.name, def.timeout, def.job, def.opt, def.state
	entryID, err := s.c.AddFunc(def.spec, func() {
		s.mu.Lock()
		queue := s.queue
		s.mu.Unlock()
		if queue == nil {
			return
		}
		t := task{
			id:      id,
			name:    name,
			timeout: timeout,
			run:     job,
			opt:     opt,
			state:   state,
		}
		select {
		case queue <- t:
		default:
			s.log.Warn("schedule queue full, firing dropped", slog.String("id", id), slog.String("name", name))
		}
	})
	if err != nil {
		return fmt.Errorf("register schedule %q: %w", def.id, err)
	}
	def.entryID = entryID
	return nil
}

func (s *Service) resolveTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	if s.cfg.DefaultTimeout > 0 {
		return s.cfg.DefaultTimeout
	}
	return time.Minute
}

// Snapshot returns a point-in-time view for status commands.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: s.cfg.Timezone,
		Workers:  s.cfg.Workers,
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	for i := range s.defs {
		info := ScheduleInfo{
			ID:      s.defs[i].id,
			Name:    s.defs[i].name,
			Spec:    s.defs[i].spec,
			Timeout: s.resolveTimeout(s.defs[i].timeout),
		}
		if s.c != nil && s.defs[i].entryID != 0 {
			e := s.c.Entry(s.defs[i].entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append(snap.History, s.history...)
	s.hmu.Unlock()
	return snap
}
