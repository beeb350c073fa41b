package hive

import (
	"context"
	"testing"
	"time"
)

func TestSweeperBadSchedule(t *testing.T) {
	f := newTestManager(t, 1)
	s := NewSweeper(f.mgr)
	s.SweepSchedule = "not a cron expression"

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() with a broken schedule should fail")
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	f := newTestManager(t, 1)
	s := NewSweeper(f.mgr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
