// Package corepm is the LE Advertising Manager (component C6): the state
// machine of start/update/rotate/enable/terminate for each advertising
// set, composed over the command dispatcher (internal/cmd), address
// policy (addrpolicy), alarm service (alarm), data codec (advdata) and
// set registry (advreg).
//
// Grounded on the teacher's top-level gatt.Server, which is the same kind
// of composition root wiring a device, a codec and a registry of
// connections/handles behind one public API.
package corepm

import (
	"github.com/blehost/corepm/addrpolicy"
	"github.com/blehost/corepm/advdata"
)

// AdvertiserId is the small integer identifying one advertising set.
type AdvertiserId int

// APIType is the advertising API family selected once at module start,
// based on controller capability.
type APIType uint8

const (
	APILegacy APIType = iota
	APIAndroidVendor
	APIExtended
)

// Address pairs a 48-bit address with the type under which it was minted.
type Address struct {
	Bytes [6]byte
	Type  addrpolicy.AddressType
}

// AdvConfig is the set of parameters supplied to set_parameters /
// create_extended_advertiser (spec §3's parameter subset of the Advertiser
// record).
type AdvConfig struct {
	RequestedAddressType addrpolicy.AddressType
	Legacy               bool
	Connectable          bool
	Scannable            bool
	Discoverable         bool
	Directed             bool
	Anonymous            bool
	IncludeTxPower       bool
	IncludeADI           bool
	TxPower              int
	IntervalMin          uint16
	IntervalMax          uint16
}

// EncryptedKeyMaterial is the 32-byte key/IV pair used to seal *_enc
// payloads, sourced from the keymat package.
type EncryptedKeyMaterial struct {
	Key [16]byte
	IV  [16]byte
}

// payload bundles the plaintext elements a caller supplied plus, when
// present, the parallel *_enc plaintext that must be sealed before
// transmission (spec §3's "paired optional *_enc plaintext sequences").
type payload struct {
	plain *advdata.Payload
	enc   *advdata.Payload

	// randomizer and haveSeal record the most recent seal. A re-seal on
	// rotation seals enc again under a fresh randomizer, so the caller need
	// not resupply plaintext.
	randomizer [5]byte
	haveSeal   bool
}

func (p *payload) hasEnc() bool { return p != nil && p.enc != nil && len(p.enc.Elements) > 0 }

// Advertiser is the per-set record described in spec §3.
type Advertiser struct {
	ID      AdvertiserId
	RegID   int
	ClientID int

	InUse   bool
	Started bool

	Config          AdvConfig
	EffectiveAddrTy addrpolicy.AddressType
	CurrentAddress  Address
	CalibratedTx    int8

	DurationTicks uint16
	MaxEvents     uint8

	IsPeriodic bool

	Advertisement  *payload
	ScanResponse   *payload
	PeriodicData   *payload

	KeyMaterial EncryptedKeyMaterial
	HaveKey     bool

	Paused bool

	// OnStarted is invoked after every successful enable, on a start-flow
	// failure, and when the controller terminates the set; it is not limited
	// to one call per set.
	OnStarted func(regID int, id AdvertiserId, txPower int8, status Status)
}

func newPayload() *payload {
	return &payload{plain: &advdata.Payload{}}
}
