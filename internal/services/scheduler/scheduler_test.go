package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestService(cfg Config) *Service {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{})

	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{"five fields", "*/5 * * * *", false},
		{"six fields with seconds", "30 */5 * * * *", false},
		{"descriptor", "@hourly", false},
		{"empty", "", true},
		{"garbage", "not a spec", true},
		{"too many fields", "* * * * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AddCron("id-"+tt.name, tt.name, tt.spec, 0, func(context.Context) error { return nil })
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddCron(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestAddReplacesAndRemove(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{})
	job := func(context.Context) error { return nil }

	if err := s.AddInterval("poll", "poll a", time.Minute, 0, job); err != nil {
		t.Fatal(err)
	}
	if err := s.AddInterval("poll", "poll b", 2*time.Minute, 0, job); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1 (re-add must replace)", len(snap.Schedules))
	}
	if snap.Schedules[0].Name != "poll b" {
		t.Fatalf("schedule name = %q, want %q", snap.Schedules[0].Name, "poll b")
	}

	if !s.Remove("poll") {
		t.Fatal("Remove(poll) = false, want true")
	}
	if s.Remove("poll") {
		t.Fatal("second Remove(poll) = true, want false")
	}
}

func TestExecuteSkipsOverlappingRun(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{DefaultTimeout: time.Second})

	var mu sync.Mutex
	runs := 0
	release := make(chan struct{})
	started := make(chan struct{})

	state := &runState{}
	slow := task{
		id:    "poll",
		name:  "poll",
		state: state,
		run: func(context.Context) error {
			mu.Lock()
			runs++
			mu.Unlock()
			close(started)
			<-release
			return nil
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.execute(context.Background(), slow)
	}()
	<-started

	// second firing while the first is still running must be dropped
	second := task{id: "poll", name: "poll", state: state, run: func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	}}
	s.execute(context.Background(), second)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("runs = %d, want 1 (overlapping firing must be skipped)", runs)
	}
}

func TestExecuteAllowOverlapRuns(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{DefaultTimeout: time.Second})

	runs := 0
	state := &runState{}
	tk := task{
		id:    "j",
		state: state,
		opt:   TaskOptions{Overlap: OverlapAllow},
		run:   func(context.Context) error { runs++; return nil },
	}
	s.execute(context.Background(), tk)
	s.execute(context.Background(), tk)
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}

func TestHistoryIsBoundedAndRecordsErrors(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{HistorySize: 3, DefaultTimeout: time.Second})

	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		err := error(nil)
		if i == 4 {
			err = boom
		}
		s.appendHistory(task{id: "j", name: "j"}, time.Now(), time.Millisecond, err)
	}

	snap := s.Snapshot()
	if len(snap.History) != 3 {
		t.Fatalf("history len = %d, want 3", len(snap.History))
	}
	last := snap.History[len(snap.History)-1]
	if last.Error != "boom" {
		t.Fatalf("last history error = %q, want %q", last.Error, "boom")
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{DefaultTimeout: time.Second})

	tk := task{id: "p", name: "p", state: &runState{}, run: func(context.Context) error {
		panic("kaboom")
	}}
	s.execute(context.Background(), tk) // must not crash the test binary

	snap := s.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Error == "" {
		t.Fatalf("expected one failed history item, got %+v", snap.History)
	}
}

func TestResolveTimeout(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{DefaultTimeout: 30 * time.Second})
	if got := s.resolveTimeout(0); got != 30*time.Second {
		t.Fatalf("resolveTimeout(0) = %s, want 30s", got)
	}
	if got := s.resolveTimeout(5 * time.Second); got != 5*time.Second {
		t.Fatalf("resolveTimeout(5s) = %s, want 5s", got)
	}
	s2 := newTestService(Config{})
	if got := s2.resolveTimeout(0); got != time.Minute {
		t.Fatalf("resolveTimeout fallback = %s, want 1m", got)
	}
}
