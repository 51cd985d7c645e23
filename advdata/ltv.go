// Package advdata implements the advertising data codec (component C4):
// GAP length-type-value element encoding, length validation, fragmentation
// of extended advertising data into controller operations, and AES-128-CCM
// sealing/unsealing of encrypted advertising payloads.
//
// The element-building pattern (appendField writing len/type/data triples
// into a growing byte slice) is grounded on the teacher's advPacket type in
// advertiser.go; this package generalizes it from a fixed 31-byte legacy
// EIR packet to the controller-length-aware, fragmentable element list
// spec.md 4.4 requires.
package advdata

import "fmt"

// Type is a GAP advertising data element type (Bluetooth Assigned Numbers).
type Type uint8

const (
	TypeFlags           Type = 0x01
	TypeSomeUUID16      Type = 0x02
	TypeAllUUID16       Type = 0x03
	TypeSomeUUID128     Type = 0x06
	TypeAllUUID128      Type = 0x07
	TypeShortName       Type = 0x08
	TypeCompleteName    Type = 0x09
	TypeTxPowerLevel    Type = 0x0A
	TypeManufacturer    Type = 0xFF
	TypeEncryptedData   Type = 0x31 // ENCRYPTED_ADVERTISING_DATA
)

// flag bits for the auto-inserted FLAGS element.
const (
	FlagLimitedDiscoverable = 1 << 0
	FlagGeneralDiscoverable = 1 << 1
	FlagLEOnly              = 1 << 2
)

// maxElementLength is the per-element cap from spec 4.4: any single data
// element over 254 bytes is an error regardless of the per-set maximum.
const maxElementLength = 254

// LegacyMaxLength is the legacy-PDU cap (31 bytes).
const LegacyMaxLength = 31

// Element is one GAP LTV triple.
type Element struct {
	Type Type
	Data []byte
}

func (e Element) length() int { return 2 + len(e.Data) }

// Payload is an ordered set of advertising data elements, with an AppendFlags
// helper matching spec 4.4's "auto-inserted FLAGS triple."
type Payload struct {
	Elements []Element

	// divideLongSingleGapData mirrors the host config flag of the same name
	// (spec 6): when set, Append no longer rejects a single element over the
	// per-element cap, since the codec fragments by raw byte count rather
	// than by element count downstream.
	divideLongSingleGapData bool
}

// AllowOversizeElements toggles the per-element cap Append enforces, per the
// divide_long_single_gap_data host config flag.
func (p *Payload) AllowOversizeElements(allow bool) {
	p.divideLongSingleGapData = allow
}

// AppendFlags prepends a FLAGS element; a no-op if one is already present.
func (p *Payload) AppendFlags(bits uint8) {
	for _, e := range p.Elements {
		if e.Type == TypeFlags {
			return
		}
	}
	p.Elements = append([]Element{{Type: TypeFlags, Data: []byte{bits}}}, p.Elements...)
}

// Append adds an element, rejecting it outright if it alone exceeds the
// per-element cap — unless divide_long_single_gap_data has been set via
// AllowOversizeElements.
func (p *Payload) Append(t Type, data []byte) error {
	if !p.divideLongSingleGapData && len(data)+2 > maxElementLength {
		return fmt.Errorf("advdata: element type %#x length %d exceeds %d byte cap", t, len(data)+2, maxElementLength)
	}
	p.Elements = append(p.Elements, Element{Type: t, Data: data})
	return nil
}

// Marshal serializes every element into one contiguous LTV byte stream.
func (p *Payload) Marshal() []byte {
	var b []byte
	for _, e := range p.Elements {
		b = append(b, byte(len(e.Data)+1), byte(e.Type))
		b = append(b, e.Data...)
	}
	return b
}

// Len returns the serialized length without allocating.
func (p *Payload) Len() int {
	n := 0
	for _, e := range p.Elements {
		n += e.length()
	}
	return n
}

// Validate checks the total serialized length against the controller's
// reported maximum and, for legacy PDUs, the 31-byte cap — spec 4.4's
// length-check rule. Per-element caps are enforced eagerly by Append.
// enforceLegacyCap mirrors the ble_check_data_length_on_legacy_advertising
// host config flag (spec 6): the 31-byte legacy cap is only checked when it
// is set.
func (p *Payload) Validate(controllerMax int, legacy, enforceLegacyCap bool) error {
	n := p.Len()
	if legacy && enforceLegacyCap && n > LegacyMaxLength {
		return fmt.Errorf("advdata: legacy payload %d bytes exceeds %d byte cap", n, LegacyMaxLength)
	}
	if n > controllerMax {
		return fmt.Errorf("advdata: payload %d bytes exceeds controller max %d", n, controllerMax)
	}
	return nil
}

// PatchTxPower rewrites an existing TX_POWER_LEVEL element's single data
// byte in place with the calibrated power reported by the controller after
// Set_Extended_Advertising_Parameters — spec 4.6 step 3's "record the
// selected tx power" feeding back into already-built payloads.
func (p *Payload) PatchTxPower(dBm int8) {
	for i := range p.Elements {
		if p.Elements[i].Type == TypeTxPowerLevel {
			p.Elements[i].Data = []byte{byte(dBm)}
			return
		}
	}
}
