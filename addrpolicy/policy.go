// Package addrpolicy implements the address policy module (component C2):
// narrowing a requested BLE address type against a host-wide policy, and
// minting addresses of the resulting type.
//
// Grounded on the teacher's functional-options style (advertiser.go's
// Option type) for AddressType's table-driven narrowing, and on
// internal/cmd's Poster-free design: this package does no I/O of its own,
// it only derives bytes and hands them back to the caller, the same
// "policy object with no side effects" shape used by robolivable-beaves's
// config package for pure decision logic.
package addrpolicy

import (
	"crypto/rand"
	"fmt"
)

// AddressType is the BLE address kind a set can advertise under.
type AddressType uint8

const (
	Public AddressType = iota
	Static
	RPA
	NRPA
)

func (t AddressType) String() string {
	switch t {
	case Public:
		return "Public"
	case Static:
		return "Static"
	case RPA:
		return "RPA"
	case NRPA:
		return "NRPA"
	default:
		return "Unknown"
	}
}

// Policy is the host-wide address policy: PublicOnly, StaticOnly, RPA or
// NRPA. PublicOnly and StaticOnly behave identically in the narrowing table
// (spec 4.2): they are two constants that Narrow treats alike.
type Policy uint8

const (
	PublicOnly Policy = iota
	StaticOnly
	PolicyRPA
	PolicyNRPA
)

// Narrow returns the strictest of a requested address type and the host
// policy, per the table in spec 4.2:
//
//	Req \ Policy   Public/Static   RPA    NRPA
//	Public          Public         Public Public
//	RPA             Public         RPA    NRPA
//	NRPA            Public         NRPA   NRPA
func Narrow(req AddressType, pol Policy) AddressType {
	if req == Public || req == Static {
		return Public
	}
	switch pol {
	case PublicOnly, StaticOnly:
		return Public
	case PolicyRPA:
		if req == NRPA {
			return NRPA
		}
		return RPA
	case PolicyNRPA:
		return NRPA
	default:
		return Public
	}
}

// NarrowNonConnectable is the non-connectable variant: Public/Static policy
// demotes to NRPA instead of Public, so non-connectable advertising never
// carries the identity address.
func NarrowNonConnectable(req AddressType, pol Policy) AddressType {
	if pol == PublicOnly || pol == StaticOnly {
		return NRPA
	}
	return Narrow(req, pol)
}

// Identity is the device's own public or static address, supplied once at
// construction time by the host.
type Identity struct {
	Addr       [6]byte
	IsStatic   bool
}

// Manager mints addresses and tracks IRK-driven rotation, and is the thing
// advertising sets register with on first use (spec 4.5's "registers with
// the address manager on first set").
type Manager struct {
	identity Identity
	irk      [16]byte
}

func NewManager(identity Identity) *Manager {
	return &Manager{identity: identity}
}

// SetIRK installs a new identity resolving key. It does not rotate anything
// itself; corepm's Manager.OnIRKChange calls it and then rotates every
// enabled set.
func (m *Manager) SetIRK(irk [16]byte) {
	m.irk = irk
}

// NewAddress mints an address of the given (already-narrowed) type. Public
// returns the device identity; RPA and NRPA mint fresh random bytes — RPA
// derivation from the IRK is delegated to keymat.DeriveRPA, since it needs
// the AES-128 resolvable-address-hash construction that keymat owns.
func (m *Manager) NewAddress(t AddressType, rpaDeriver func(irk [16]byte) ([6]byte, error)) ([6]byte, error) {
	switch t {
	case Public, Static:
		return m.identity.Addr, nil
	case NRPA:
		return newNonResolvable()
	case RPA:
		if rpaDeriver == nil {
			return [6]byte{}, fmt.Errorf("addrpolicy: RPA requested with no deriver")
		}
		return rpaDeriver(m.irk)
	default:
		return [6]byte{}, fmt.Errorf("addrpolicy: unknown address type %v", t)
	}
}

// newNonResolvable mints a non-resolvable private address: 6 random bytes
// with the top two bits of the most significant octet cleared (BT Core
// Vol 6 Part B 1.3.2.2).
func newNonResolvable() ([6]byte, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, err
	}
	b[5] &^= 0xC0
	return b, nil
}
