// Package leadv holds the cmd.Param implementations for the LE advertising
// command family (spec §6's HCI command list), one type per opcode,
// following the same "struct implements Param{Opcode,Len,Marshal}" shape
// internal/cmd.Param defines.
//
// Field layouts approximate the Bluetooth Core Specification's command
// parameter tables closely enough to exercise the dispatcher and codec
// realistically; they are not a byte-for-byte transcription of the Core
// spec (out of scope per spec.md §1, "the encoding of concrete HCI
// command/event bit layouts").
package leadv

import (
	"encoding/binary"

	"github.com/blehost/corepm/advdata"
	"github.com/blehost/corepm/internal/hci"
)

type SetExtendedAdvParams struct {
	Handle        uint8
	Properties    uint16
	IntervalMin   uint32
	IntervalMax   uint32
	ChannelMap    uint8
	OwnAddrType   uint8
	PeerAddrType  uint8
	PeerAddr      [6]byte
	FilterPolicy  uint8
	TxPower       int8
	PrimaryPHY    uint8
	SecondaryPHY  uint8
	SID           uint8
	ScanReqNotify uint8
}

func (p SetExtendedAdvParams) Opcode() hci.Opcode { return hci.OpLESetExtendedAdvertisingParameters }
func (p SetExtendedAdvParams) Len() int           { return 25 }
func (p SetExtendedAdvParams) Marshal(b []byte) {
	b[0] = p.Handle
	binary.LittleEndian.PutUint16(b[1:3], p.Properties)
	putU24(b[3:6], p.IntervalMin)
	putU24(b[6:9], p.IntervalMax)
	b[9] = p.ChannelMap
	b[10] = p.OwnAddrType
	b[11] = p.PeerAddrType
	copy(b[12:18], p.PeerAddr[:])
	b[18] = p.FilterPolicy
	b[19] = byte(p.TxPower)
	b[20] = p.PrimaryPHY
	b[21] = 0
	b[22] = p.SecondaryPHY
	b[23] = p.SID
	b[24] = p.ScanReqNotify
}

func putU24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// SetExtendedAdvData carries one fragment of advertising/scan-response
// data, as chosen by advdata.Fragmentize.
type SetExtendedAdvData struct {
	Handle    uint8
	Operation advdata.Operation
	FragPref  uint8
	Data      []byte
	ScanResp  bool
}

func (p SetExtendedAdvData) Opcode() hci.Opcode {
	if p.ScanResp {
		return hci.OpLESetExtendedScanResponseData
	}
	return hci.OpLESetExtendedAdvertisingData
}
func (p SetExtendedAdvData) Len() int { return 4 + len(p.Data) }
func (p SetExtendedAdvData) Marshal(b []byte) {
	b[0] = p.Handle
	b[1] = byte(p.Operation)
	b[2] = p.FragPref
	b[3] = byte(len(p.Data))
	copy(b[4:], p.Data)
}

type SetExtendedAdvEnable struct {
	Enable   bool
	Handle   uint8
	Duration uint16
	MaxEvents uint8
}

func (p SetExtendedAdvEnable) Opcode() hci.Opcode { return hci.OpLESetExtendedAdvertisingEnable }
func (p SetExtendedAdvEnable) Len() int           { return 2 + 4 }
func (p SetExtendedAdvEnable) Marshal(b []byte) {
	if p.Enable {
		b[0] = 1
	}
	b[1] = 1 // number of sets
	b[2] = p.Handle
	binary.LittleEndian.PutUint16(b[3:5], p.Duration)
	b[5] = p.MaxEvents
}

type SetAdvertisingSetRandomAddress struct {
	Handle uint8
	Addr   [6]byte
}

func (p SetAdvertisingSetRandomAddress) Opcode() hci.Opcode {
	return hci.OpLESetAdvertisingSetRandomAddress
}
func (p SetAdvertisingSetRandomAddress) Len() int { return 7 }
func (p SetAdvertisingSetRandomAddress) Marshal(b []byte) {
	b[0] = p.Handle
	copy(b[1:7], p.Addr[:])
}

type RemoveAdvertisingSet struct{ Handle uint8 }

func (p RemoveAdvertisingSet) Opcode() hci.Opcode { return hci.OpLERemoveAdvertisingSet }
func (p RemoveAdvertisingSet) Len() int           { return 1 }
func (p RemoveAdvertisingSet) Marshal(b []byte)   { b[0] = p.Handle }

type SetPeriodicAdvParams struct {
	Handle       uint8
	IntervalMin  uint16
	IntervalMax  uint16
	Properties   uint16
}

func (p SetPeriodicAdvParams) Opcode() hci.Opcode {
	return hci.OpLESetPeriodicAdvertisingParameters
}
func (p SetPeriodicAdvParams) Len() int { return 7 }
func (p SetPeriodicAdvParams) Marshal(b []byte) {
	b[0] = p.Handle
	binary.LittleEndian.PutUint16(b[1:3], p.IntervalMin)
	binary.LittleEndian.PutUint16(b[3:5], p.IntervalMax)
	binary.LittleEndian.PutUint16(b[5:7], p.Properties)
}

type SetPeriodicAdvData struct {
	Handle    uint8
	Operation advdata.Operation
	Data      []byte
}

func (p SetPeriodicAdvData) Opcode() hci.Opcode { return hci.OpLESetPeriodicAdvertisingData }
func (p SetPeriodicAdvData) Len() int           { return 3 + len(p.Data) }
func (p SetPeriodicAdvData) Marshal(b []byte) {
	b[0] = p.Handle
	b[1] = byte(p.Operation)
	b[2] = byte(len(p.Data))
	copy(b[3:], p.Data)
}

type SetPeriodicAdvEnable struct {
	Enable     bool
	IncludeADI bool
	Handle     uint8
}

func (p SetPeriodicAdvEnable) Opcode() hci.Opcode { return hci.OpLESetPeriodicAdvertisingEnable }
func (p SetPeriodicAdvEnable) Len() int           { return 2 }
func (p SetPeriodicAdvEnable) Marshal(b []byte) {
	var v uint8
	if p.Enable {
		v |= 0x01
	}
	if p.IncludeADI {
		v |= 0x02
	}
	b[0] = v
	b[1] = p.Handle
}

type LERand struct{}

func (LERand) Opcode() hci.Opcode { return hci.OpLERand }
func (LERand) Len() int           { return 0 }
func (LERand) Marshal([]byte)     {}

// Legacy advertising command family (single implicit set, handle 0).

type SetAdvertisingParameters struct {
	IntervalMin  uint16
	IntervalMax  uint16
	Type         uint8
	OwnAddrType  uint8
	PeerAddrType uint8
	PeerAddr     [6]byte
	ChannelMap   uint8
	FilterPolicy uint8
}

func (p SetAdvertisingParameters) Opcode() hci.Opcode { return hci.OpLESetAdvertisingParameters }
func (p SetAdvertisingParameters) Len() int           { return 15 }
func (p SetAdvertisingParameters) Marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], p.IntervalMin)
	binary.LittleEndian.PutUint16(b[2:4], p.IntervalMax)
	b[4] = p.Type
	b[5] = p.OwnAddrType
	b[6] = p.PeerAddrType
	copy(b[7:13], p.PeerAddr[:])
	b[13] = p.ChannelMap
	b[14] = p.FilterPolicy
}

type SetAdvertisingData struct{ Data []byte }

func (p SetAdvertisingData) Opcode() hci.Opcode { return hci.OpLESetAdvertisingData }
func (p SetAdvertisingData) Len() int           { return 32 }
func (p SetAdvertisingData) Marshal(b []byte) {
	b[0] = byte(len(p.Data))
	copy(b[1:], p.Data)
}

type SetScanResponseData struct{ Data []byte }

func (p SetScanResponseData) Opcode() hci.Opcode { return hci.OpLESetScanResponseData }
func (p SetScanResponseData) Len() int           { return 32 }
func (p SetScanResponseData) Marshal(b []byte) {
	b[0] = byte(len(p.Data))
	copy(b[1:], p.Data)
}

type SetAdvertiseEnable struct{ Enable bool }

func (p SetAdvertiseEnable) Opcode() hci.Opcode { return hci.OpLESetAdvertiseEnable }
func (p SetAdvertiseEnable) Len() int           { return 1 }
func (p SetAdvertiseEnable) Marshal(b []byte) {
	if p.Enable {
		b[0] = 1
	}
}

type SetRandomAddress struct{ Addr [6]byte }

func (p SetRandomAddress) Opcode() hci.Opcode { return hci.OpLESetRandomAddress }
func (p SetRandomAddress) Len() int           { return 6 }
func (p SetRandomAddress) Marshal(b []byte)   { copy(b, p.Addr[:]) }

// Android-vendor multi-advertising family: one shared opcode, correlated by
// a leading sub-opcode octet (internal/cmd.SubOpcodeParam).

type MultiAdvtEnable struct {
	Handle uint8
	Enable bool
}

func (p MultiAdvtEnable) Opcode() hci.Opcode { return hci.OpLEMultiAdvt }
func (p MultiAdvtEnable) SubOpcode() uint8   { return uint8(hci.SubEnable) }
func (p MultiAdvtEnable) Len() int           { return 3 }
func (p MultiAdvtEnable) Marshal(b []byte) {
	b[0] = uint8(hci.SubEnable)
	if p.Enable {
		b[1] = 1
	}
	b[2] = p.Handle
}

type MultiAdvtSetRandomAddr struct {
	Handle uint8
	Addr   [6]byte
}

func (p MultiAdvtSetRandomAddr) Opcode() hci.Opcode { return hci.OpLEMultiAdvt }
func (p MultiAdvtSetRandomAddr) SubOpcode() uint8   { return uint8(hci.SubSetRandomAddr) }
func (p MultiAdvtSetRandomAddr) Len() int           { return 8 }
func (p MultiAdvtSetRandomAddr) Marshal(b []byte) {
	b[0] = uint8(hci.SubSetRandomAddr)
	copy(b[1:7], p.Addr[:])
	b[7] = p.Handle
}
