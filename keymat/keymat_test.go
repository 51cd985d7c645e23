package keymat

import (
	"crypto/aes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// ahReference reimplements the ah() function independently of DeriveRPA, so
// the test pins the hash||prand byte layout rather than just tautologically
// re-running the function under test.
func ahReference(irk [16]byte, prand [3]byte) ([3]byte, error) {
	block, err := aes.NewCipher(irk[:])
	if err != nil {
		return [3]byte{}, err
	}
	var in, out [16]byte
	copy(in[13:], prand[:])
	block.Encrypt(out[:], in[:])
	var hash [3]byte
	copy(hash[:], out[13:16])
	return hash, nil
}

type fakeBackend struct {
	mu      sync.Mutex
	stored  []Material
	loadM   Material
	loadOK  bool
	loadErr error
	storeErr error
}

func (b *fakeBackend) Load() (Material, bool, error) {
	return b.loadM, b.loadOK, b.loadErr
}

func (b *fakeBackend) Store(m Material) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.storeErr != nil {
		return b.storeErr
	}
	b.stored = append(b.stored, m)
	return nil
}

// fakeRander hands out a fixed sequence of values and can optionally block
// until released, so tests can observe in-flight singleflight collapsing.
type fakeRander struct {
	calls int32
	vals  []uint64
	block chan struct{}
}

func (r *fakeRander) LERand() (uint64, error) {
	n := atomic.AddInt32(&r.calls, 1)
	if r.block != nil {
		<-r.block
	}
	if int(n)-1 < len(r.vals) {
		return r.vals[n-1], nil
	}
	return uint64(n), nil
}

func TestGenerate_ThreeRandCallsProduceDeterministicMaterial(t *testing.T) {
	backend := &fakeBackend{}
	rander := &fakeRander{vals: []uint64{1, 2, 3}}
	s := NewStore(backend, nil, nil)
	s.rand = rander

	m, err := s.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if atomic.LoadInt32(&rander.calls) != 3 {
		t.Fatalf("LERand called %d times, want 3", rander.calls)
	}
	if len(backend.stored) != 1 || backend.stored[0] != m {
		t.Fatalf("expected Generate to persist the material via the backend")
	}
	got, ok := s.Current()
	if !ok || got != m {
		t.Fatalf("Current() = (%+v, %v), want (%+v, true)", got, ok, m)
	}

	// Same entropy sequence must derive the same key material (HKDF is
	// deterministic given the same input keying material and info string).
	backend2 := &fakeBackend{}
	s2 := NewStore(backend2, nil, nil)
	s2.rand = &fakeRander{vals: []uint64{1, 2, 3}}
	m2, err := s2.Generate()
	if err != nil {
		t.Fatalf("Generate (second store): %v", err)
	}
	if m2 != m {
		t.Fatalf("Generate with identical entropy produced different material: %+v vs %+v", m2, m)
	}
}

func TestGenerate_DifferentEntropyProducesDifferentMaterial(t *testing.T) {
	s1 := NewStore(&fakeBackend{}, nil, nil)
	s1.rand = &fakeRander{vals: []uint64{1, 2, 3}}
	m1, _ := s1.Generate()

	s2 := NewStore(&fakeBackend{}, nil, nil)
	s2.rand = &fakeRander{vals: []uint64{9, 8, 7}}
	m2, _ := s2.Generate()

	if m1 == m2 {
		t.Fatalf("expected different entropy to produce different material")
	}
}

func TestGenerate_FiresOnChange(t *testing.T) {
	var got Material
	var calls int
	s := NewStore(&fakeBackend{}, nil, func(m Material) {
		calls++
		got = m
	})
	s.rand = &fakeRander{vals: []uint64{1, 2, 3}}

	want, err := s.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("onChange called %d times, want 1", calls)
	}
	if got != want {
		t.Fatalf("onChange received %+v, want %+v", got, want)
	}
}

func TestGenerate_PropagatesRandError(t *testing.T) {
	s := NewStore(&fakeBackend{}, nil, nil)
	wantErr := errors.New("controller gone")
	s.rand = failingRander{err: wantErr}

	if _, err := s.Generate(); !errors.Is(err, wantErr) {
		t.Fatalf("Generate error = %v, want %v", err, wantErr)
	}
}

type failingRander struct{ err error }

func (f failingRander) LERand() (uint64, error) { return 0, f.err }

func TestGenerate_PropagatesStoreError(t *testing.T) {
	backend := &fakeBackend{storeErr: errors.New("disk full")}
	s := NewStore(backend, nil, nil)
	s.rand = &fakeRander{vals: []uint64{1, 2, 3}}

	if _, err := s.Generate(); err == nil {
		t.Fatalf("expected Generate to propagate a backend Store error")
	}
}

func TestGenerate_ConcurrentCallersCollapseIntoOneGeneration(t *testing.T) {
	backend := &fakeBackend{}
	rander := &fakeRander{vals: []uint64{1, 2, 3}, block: make(chan struct{})}
	s := NewStore(backend, nil, nil)
	s.rand = rander

	const n = 10
	var wg sync.WaitGroup
	results := make([]Material, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Generate()
		}(i)
	}
	close(rander.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: Generate: %v", i, err)
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got %+v, want %+v (all concurrent callers should share one generation)", i, results[i], results[0])
		}
	}
	if atomic.LoadInt32(&rander.calls) != 3 {
		t.Fatalf("LERand called %d times across %d concurrent callers, want exactly 3 (singleflight must collapse them)", rander.calls, n)
	}
	if len(backend.stored) != 1 {
		t.Fatalf("backend.Store called %d times, want 1", len(backend.stored))
	}
}

func TestLoad_PopulatesCacheFromBackend(t *testing.T) {
	want := Material{Key: [16]byte{1}, IV: [16]byte{2}}
	backend := &fakeBackend{loadM: want, loadOK: true}
	s := NewStore(backend, nil, nil)

	m, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = (%+v, %v, %v)", m, ok, err)
	}
	if m != want {
		t.Fatalf("Load() = %+v, want %+v", m, want)
	}
	got, ok := s.Current()
	if !ok || got != want {
		t.Fatalf("Current() after Load = (%+v, %v), want (%+v, true)", got, ok, want)
	}
}

func TestDeriveRPA_PrandTopBitsAreZeroOne(t *testing.T) {
	var irk [16]byte
	for i := 0; i < 20; i++ {
		addr, err := DeriveRPA(irk)
		if err != nil {
			t.Fatalf("DeriveRPA: %v", err)
		}
		if addr[3]&0xC0 != 0x40 {
			t.Fatalf("prand top two bits = %#x, want 01", addr[3]&0xC0)
		}
	}
}

func TestDeriveRPA_HashIsConsistentWithPrand(t *testing.T) {
	var irk [16]byte
	irk[0] = 0x77
	addr, err := DeriveRPA(irk)
	if err != nil {
		t.Fatalf("DeriveRPA: %v", err)
	}
	// Recompute ah(irk, prand) independently and check it matches the
	// address's hash half, pinning the byte layout (hash || prand).
	hash, err := ahReference(irk, [3]byte{addr[3], addr[4], addr[5]})
	if err != nil {
		t.Fatalf("ahReference: %v", err)
	}
	if hash != [3]byte{addr[0], addr[1], addr[2]} {
		t.Fatalf("address hash = %x, want %x", [3]byte{addr[0], addr[1], addr[2]}, hash)
	}
}
