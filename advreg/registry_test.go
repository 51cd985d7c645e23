package advreg

import "testing"

type fakeCanceller struct{ cancelled []string }

func (f *fakeCanceller) Cancel(token string) { f.cancelled = append(f.cancelled, token) }

type fakeUnregisterer struct{ calls int }

func (f *fakeUnregisterer) UnregisterAll() { f.calls++ }

func TestAllocate_SmallestFreeSlot(t *testing.T) {
	cases := []struct {
		name  string
		api   API
		want0 int
	}{
		{"extended starts at zero", Extended, 0},
		{"legacy starts at zero", Legacy, 0},
		{"android vendor starts at one", AndroidVendor, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := New(c.api, 4, nil, nil)
			id, err := r.Allocate()
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			if id != c.want0 {
				t.Fatalf("first id = %d, want %d", id, c.want0)
			}
		})
	}
}

func TestAllocate_ReusesFreedSlot(t *testing.T) {
	r := New(Extended, 2, nil, nil)
	a, _ := r.Allocate()
	b, _ := r.Allocate()
	if a == b {
		t.Fatalf("expected distinct ids, got %d twice", a)
	}
	r.Reset(a)
	c, err := r.Allocate()
	if err != nil {
		t.Fatalf("Allocate after reset: %v", err)
	}
	if c != a {
		t.Fatalf("expected freed slot %d to be reused, got %d", a, c)
	}
}

func TestAllocate_TooManyAdvertisers(t *testing.T) {
	r := New(Extended, 2, nil, nil)
	if _, err := r.Allocate(); err != nil {
		t.Fatalf("Allocate 1: %v", err)
	}
	if _, err := r.Allocate(); err != nil {
		t.Fatalf("Allocate 2: %v", err)
	}
	if _, err := r.Allocate(); err != ErrTooManyAdvertisers {
		t.Fatalf("Allocate 3 = %v, want ErrTooManyAdvertisers", err)
	}
}

func TestReset_CancelsAlarmAndUnregistersWhenEmpty(t *testing.T) {
	cancels := &fakeCanceller{}
	unreg := &fakeUnregisterer{}
	r := New(Extended, 2, cancels, unreg)

	a, _ := r.Allocate()
	b, _ := r.Allocate()

	r.Reset(a)
	if len(cancels.cancelled) != 1 || cancels.cancelled[0] != RotationToken(a) {
		t.Fatalf("expected rotation token for %d cancelled, got %v", a, cancels.cancelled)
	}
	if unreg.calls != 0 {
		t.Fatalf("unregister should not fire while %d is still live", b)
	}

	r.Reset(b)
	if unreg.calls != 1 {
		t.Fatalf("expected UnregisterAll once the registry is empty, got %d calls", unreg.calls)
	}
}

func TestLiveAndCount(t *testing.T) {
	r := New(Extended, 3, nil, nil)
	id, _ := r.Allocate()
	if !r.Live(id) {
		t.Fatalf("expected %d to be live", id)
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
	r.Reset(id)
	if r.Live(id) {
		t.Fatalf("expected %d to no longer be live", id)
	}
	if r.Count() != 0 {
		t.Fatalf("Count = %d, want 0", r.Count())
	}
}
