package alarm

import (
	"sync"
	"testing"
	"time"
)

// syncPoster runs posted functions synchronously and records how many
// fired, standing in for the single-threaded main handler.
type syncPoster struct {
	mu    sync.Mutex
	fired []string
}

func (p *syncPoster) Post(fn func()) { fn() }

func (p *syncPoster) record(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fired = append(p.fired, token)
}

func (p *syncPoster) firedTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.fired...)
}

// go-cache's janitor sweeps on a 1-second cadence regardless of a given
// item's own TTL, so tests schedule well under a second and then wait past
// one sweep interval to observe the eviction callback.
const sweepWait = 1200 * time.Millisecond

func TestSchedule_FiresOnFireAfterDelay(t *testing.T) {
	p := &syncPoster{}
	s := New(p, p.record)

	s.Schedule("adv0", 10*time.Millisecond)
	time.Sleep(sweepWait)

	got := p.firedTokens()
	if len(got) != 1 || got[0] != "adv0" {
		t.Fatalf("firedTokens = %v, want [adv0]", got)
	}
}

func TestCancel_PreventsFire(t *testing.T) {
	p := &syncPoster{}
	s := New(p, p.record)

	s.Schedule("adv1", 10*time.Millisecond)
	s.Cancel("adv1")
	time.Sleep(sweepWait)

	if got := p.firedTokens(); len(got) != 0 {
		t.Fatalf("firedTokens = %v, want none (cancelled before fire)", got)
	}
}

func TestCancel_IsIdempotent(t *testing.T) {
	p := &syncPoster{}
	s := New(p, p.record)

	s.Cancel("never-scheduled")
	s.Schedule("adv2", 10*time.Millisecond)
	s.Cancel("adv2")
	s.Cancel("adv2")
	time.Sleep(sweepWait)

	if got := p.firedTokens(); len(got) != 0 {
		t.Fatalf("firedTokens = %v, want none", got)
	}
}

func TestPending_ReflectsScheduleAndCancel(t *testing.T) {
	p := &syncPoster{}
	s := New(p, p.record)

	if s.Pending("adv3") {
		t.Fatalf("Pending before Schedule = true, want false")
	}
	s.Schedule("adv3", time.Minute)
	if !s.Pending("adv3") {
		t.Fatalf("Pending after Schedule = false, want true")
	}
	s.Cancel("adv3")
	if s.Pending("adv3") {
		t.Fatalf("Pending after Cancel = true, want false")
	}
}

func TestSchedule_ReschedulingReplacesThePreviousTimer(t *testing.T) {
	p := &syncPoster{}
	s := New(p, p.record)

	s.Schedule("adv4", time.Minute)
	s.Schedule("adv4", 10*time.Millisecond)
	time.Sleep(sweepWait)

	got := p.firedTokens()
	if len(got) != 1 || got[0] != "adv4" {
		t.Fatalf("firedTokens = %v, want exactly one fire of adv4", got)
	}
}

func TestSetOnFire_RebindsCallback(t *testing.T) {
	s := New(&syncPoster{}, nil)

	var got string
	s.SetOnFire(func(token string) { got = token })
	s.Schedule("adv5", 10*time.Millisecond)
	time.Sleep(sweepWait)

	if got != "adv5" {
		t.Fatalf("onFire received %q, want adv5", got)
	}
}
