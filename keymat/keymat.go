// Package keymat generates and stores the key material used to seal
// encrypted advertising payloads (the key and iv arguments of advdata.Seal).
//
// Generation requires three LE_Rand round trips through the HCI command
// dispatcher, combined via HKDF into a Key/IV pair. Concurrent callers
// asking for material before the first round trip has landed must not
// trigger three separate generation sequences; singleflight collapses
// them, the same "collapse concurrent identical work" shape
// robolivable-beaves uses golang.org/x/sync for elsewhere in that repo's
// fetch path.
package keymat

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/singleflight"

	"github.com/blehost/corepm/internal/cmd"
	"github.com/blehost/corepm/internal/hci"
)

// Material is the 32-byte BTIF_STORAGE_KEY_ENCR_DATA blob: a 16-byte AES-128
// key and a 16-byte IV, the latter's low 8 bytes used as the CCM nonce's IV
// half (advdata.Seal).
type Material struct {
	Key [16]byte
	IV  [16]byte
}

// Backend is the persistence collaborator; out of scope for this core per
// spec.md 1, supplied by the host application.
type Backend interface {
	Load() (Material, bool, error)
	Store(Material) error
}

// Rander issues an LE_Rand command and returns its 8 bytes of entropy.
// Implemented by Store using the shared cmd.Dispatcher.
type Rander interface {
	LERand() (uint64, error)
}

// dispatcherRander adapts a cmd.Dispatcher (async, callback-based) into a
// synchronous Rander by blocking on a one-shot channel — acceptable here
// because Generate always runs off the main handler goroutine (on a
// dedicated goroutine per caller), never on it.
type dispatcherRander struct {
	d *cmd.Dispatcher
}

type leRandParam struct{}

func (leRandParam) Opcode() hci.Opcode { return hci.OpLERand }
func (leRandParam) Len() int           { return 0 }
func (leRandParam) Marshal([]byte)     {}

func (r dispatcherRander) LERand() (uint64, error) {
	type out struct {
		v   uint64
		err error
	}
	ch := make(chan out, 1)
	r.d.Enqueue(leRandParam{}, func(res cmd.Result, err error) {
		if err != nil {
			ch <- out{err: err}
			return
		}
		if res.Status != 0 || len(res.Return) < 9 {
			ch <- out{err: fmt.Errorf("keymat: LE_Rand failed, status=%d", res.Status)}
			return
		}
		ch <- out{v: binary.LittleEndian.Uint64(res.Return[1:9])}
	})
	o := <-ch
	return o.v, o.err
}

// Store owns generation, persistence and change notification for one
// device's encrypted-advertising key material.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	rand    Rander
	sf      singleflight.Group
	onChange func(Material)

	current Material
	have    bool
}

func NewStore(backend Backend, d *cmd.Dispatcher, onChange func(Material)) *Store {
	return &Store{backend: backend, rand: dispatcherRander{d: d}, onChange: onChange}
}

// SetOnChange (re)binds the change callback, for composition roots that
// need the store before the callback's closure (which references the
// store's consumer) is constructible.
func (s *Store) SetOnChange(onChange func(Material)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = onChange
}

// Current returns the cached material, if any has been loaded or generated.
func (s *Store) Current() (Material, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.have
}

// Load pulls material from the backend into the cache, without generating.
func (s *Store) Load() (Material, bool, error) {
	m, ok, err := s.backend.Load()
	if err != nil || !ok {
		return Material{}, ok, err
	}
	s.mu.Lock()
	s.current, s.have = m, true
	s.mu.Unlock()
	return m, true, nil
}

// Generate produces fresh key material via three LE_Rand round trips,
// persists it, updates the cache and fires onChange. Concurrent callers
// share one in-flight generation.
func (s *Store) Generate() (Material, error) {
	v, err, _ := s.sf.Do("generate", func() (interface{}, error) {
		var entropy [24]byte
		for i := 0; i < 3; i++ {
			r, err := s.rand.LERand()
			if err != nil {
				return Material{}, err
			}
			binary.LittleEndian.PutUint64(entropy[i*8:], r)
		}

		kdf := hkdf.New(sha256.New, entropy[:], nil, []byte("corepm/encrypted-adv"))
		var blob [32]byte
		if _, err := io.ReadFull(kdf, blob[:]); err != nil {
			return Material{}, err
		}
		var m Material
		copy(m.Key[:], blob[:16])
		copy(m.IV[:], blob[16:])

		if err := s.backend.Store(m); err != nil {
			return Material{}, err
		}
		return m, nil
	})
	if err != nil {
		return Material{}, err
	}
	m := v.(Material)

	s.mu.Lock()
	s.current, s.have = m, true
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(m)
	}
	return m, nil
}
