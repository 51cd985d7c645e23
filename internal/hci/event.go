package hci

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// EventCode identifies an HCI event, grounded on the teacher's
// linux/internal/event/event.go EventCode table, trimmed to the events this
// core actually consumes (spec.md 6).
type EventCode uint8

const (
	EvtDisconnectionComplete EventCode = 0x05
	EvtCommandComplete       EventCode = 0x0E
	EvtCommandStatus         EventCode = 0x0F
	EvtNumberOfCompletedPkts EventCode = 0x13
	EvtModeChange            EventCode = 0x14
	EvtSniffSubrating        EventCode = 0x2E
	EvtLEMeta                EventCode = 0x3E
	EvtVendorSpecific        EventCode = 0xFF
)

// LE Meta sub-events.
type LEEventCode uint8

const (
	LESubAdvertisingSetTerminated LEEventCode = 0x12
	LESubScanRequestReceived      LEEventCode = 0x13
)

// VendorSubEventCode enumerates the Android-vendor BLE_STCHANGE family of
// sub-events carried inside EvtVendorSpecific, used by the AndroidVendor
// advertising API variant (spec.md 3 "Advertising API type").
type VendorSubEventCode uint8

const BLEStChangeSubevent VendorSubEventCode = 0x02

// EventHeader is the common 2-byte event header (code, parameter length),
// grounded on linux/internal/event/event.go's EventHeader.
type EventHeader struct {
	Code EventCode
	Plen uint8
}

func (h *EventHeader) Unmarshal(b []byte) error {
	if len(b) < 2 {
		return errors.New("hci: malformed event header")
	}
	h.Code = EventCode(b[0])
	h.Plen = b[1]
	if int(h.Plen) != len(b)-2 {
		return errors.New("hci: event length mismatch")
	}
	return nil
}

// CommandCompleteEP is the Command Complete event's parameters.
type CommandCompleteEP struct {
	NumHCICommandPackets uint8
	CommandOpcode        uint16
	ReturnParameters      []byte
}

func (ep *CommandCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 3 {
		return errors.New("hci: short command complete")
	}
	ep.NumHCICommandPackets = b[0]
	ep.CommandOpcode = binary.LittleEndian.Uint16(b[1:3])
	ep.ReturnParameters = append([]byte(nil), b[3:]...)
	return nil
}

// CommandStatusEP is the Command Status event's parameters.
type CommandStatusEP struct {
	Status               uint8
	NumHCICommandPackets uint8
	CommandOpcode        uint16
}

func (ep *CommandStatusEP) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, ep)
}

// AdvertisingSetTerminatedEP is the LE_Advertising_Set_Terminated sub-event.
type AdvertisingSetTerminatedEP struct {
	SubeventCode             uint8
	Status                   uint8
	AdvertisingHandle        uint8
	ConnectionHandle         uint16
	NumCompletedExtendedAdvEvents uint8
}

func (ep *AdvertisingSetTerminatedEP) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, ep)
}

// ScanRequestReceivedEP is the LE_Scan_Request_Received sub-event.
type ScanRequestReceivedEP struct {
	SubeventCode      uint8
	AdvertisingHandle uint8
	ScannerAddrType   uint8
	ScannerAddr       [6]byte
}

func (ep *ScanRequestReceivedEP) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, ep)
}

// VendorStChangeEP is the Android-vendor BLE_STCHANGE event.
type VendorStChangeEP struct {
	Subevent            uint8
	AdvertisingInstance  uint8
	Reason               uint8
	ConnectionHandle     uint16
}

func (ep *VendorStChangeEP) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, ep)
}

// ModeChangeEP is the Mode_Change event (PM: sniff/park/active transitions).
type ModeChangeEP struct {
	Status           uint8
	ConnectionHandle uint16
	CurrentMode      uint8
	Interval         uint16
}

func (ep *ModeChangeEP) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, ep)
}

// SniffSubratingEP is the Sniff_Subrating event.
type SniffSubratingEP struct {
	Status                       uint8
	ConnectionHandle             uint16
	MaxTxLatency                 uint16
	MaxRxLatency                 uint16
	MinRemoteTimeout             uint16
	MinLocalTimeout              uint16
}

func (ep *SniffSubratingEP) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, ep)
}
