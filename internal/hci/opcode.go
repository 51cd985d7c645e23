// Package hci holds the wire-level opcode and event-code tables shared by
// internal/cmd and internal/event. The grouping mirrors the Bluetooth Core
// Specification's OGF/OCF split, the same shape the teacher package used in
// linux/internal/cmd/cmd.go.
package hci

// Opcode is a 2-octet HCI command opcode: ogf<<10 | ocf.
type Opcode uint16

func (op Opcode) OGF() uint8  { return uint8((uint16(op) & 0xFC00) >> 10) }
func (op Opcode) OCF() uint16 { return uint16(op) & 0x03FF }
func (op Opcode) String() string {
	if s, ok := opcodeName[op]; ok {
		return s
	}
	return "Unknown Opcode"
}

const (
	ogfLinkPolicy = 0x02
	ogfHostCtl    = 0x03
	ogfLECtl      = 0x08
	ogfVendor     = 0x3F
)

// Link Policy commands (Classic power modes).
const (
	OpHoldMode       = Opcode(ogfLinkPolicy<<10 | 0x0001)
	OpSniffMode      = Opcode(ogfLinkPolicy<<10 | 0x0003)
	OpExitSniffMode  = Opcode(ogfLinkPolicy<<10 | 0x0004)
	OpParkMode       = Opcode(ogfLinkPolicy<<10 | 0x0005)
	OpExitParkMode   = Opcode(ogfLinkPolicy<<10 | 0x0006)
	OpRoleDiscovery  = Opcode(ogfLinkPolicy<<10 | 0x0009)
	OpSniffSubrating = Opcode(ogfLinkPolicy<<10 | 0x0011) // BTM_SetSsrParams
)

// Host Controller & Baseband.
const (
	OpReset           = Opcode(ogfHostCtl<<10 | 0x0003)
	OpSetEventMask    = Opcode(ogfHostCtl<<10 | 0x0001)
	OpWriteLEHostSupp = Opcode(ogfHostCtl<<10 | 0x006D)
)

// LE Controller commands used by the advertising manager.
const (
	OpLESetRandomAddress                  = Opcode(ogfLECtl<<10 | 0x0005)
	OpLESetAdvertisingParameters          = Opcode(ogfLECtl<<10 | 0x0006)
	OpLESetAdvertisingData                = Opcode(ogfLECtl<<10 | 0x0008)
	OpLESetScanResponseData                = Opcode(ogfLECtl<<10 | 0x0009)
	OpLESetAdvertiseEnable                 = Opcode(ogfLECtl<<10 | 0x000A)
	OpLERand                               = Opcode(ogfLECtl<<10 | 0x0018)
	OpLESetAdvertisingSetRandomAddress     = Opcode(ogfLECtl<<10 | 0x0035)
	OpLESetExtendedAdvertisingParameters   = Opcode(ogfLECtl<<10 | 0x0036)
	OpLESetExtendedAdvertisingData         = Opcode(ogfLECtl<<10 | 0x0037)
	OpLESetExtendedScanResponseData        = Opcode(ogfLECtl<<10 | 0x0038)
	OpLESetExtendedAdvertisingEnable       = Opcode(ogfLECtl<<10 | 0x0039)
	OpLERemoveAdvertisingSet               = Opcode(ogfLECtl<<10 | 0x003C)
	OpLEClearAdvertisingSets               = Opcode(ogfLECtl<<10 | 0x003D)
	OpLESetPeriodicAdvertisingParameters   = Opcode(ogfLECtl<<10 | 0x003E)
	OpLESetPeriodicAdvertisingData         = Opcode(ogfLECtl<<10 | 0x003F)
	OpLESetPeriodicAdvertisingEnable       = Opcode(ogfLECtl<<10 | 0x0040)
)

// Vendor (AndroidVendor multi-advertising) command family. All share one
// opcode; the sub-command is the first octet of the parameter payload, so
// the dispatcher must correlate completions by (opcode, sub-opcode) for
// this family only, per spec.md 4.1.
const OpLEMultiAdvt = Opcode(ogfVendor<<10 | 0x0154)

type MultiAdvtSubcmd uint8

const (
	SubSetParam        MultiAdvtSubcmd = 0x00
	SubWriteData        MultiAdvtSubcmd = 0x01
	SubSetScanResp      MultiAdvtSubcmd = 0x02
	SubSetRandomAddr    MultiAdvtSubcmd = 0x03
	SubEnable           MultiAdvtSubcmd = 0x04
)

var opcodeName = map[Opcode]string{
	OpHoldMode:                            "Hold Mode",
	OpSniffMode:                           "Sniff Mode",
	OpExitSniffMode:                       "Exit Sniff Mode",
	OpParkMode:                            "Park State",
	OpExitParkMode:                        "Exit Park State",
	OpRoleDiscovery:                       "Role Discovery",
	OpSniffSubrating:                      "Sniff Subrating",
	OpReset:                               "Reset",
	OpSetEventMask:                        "Set Event Mask",
	OpWriteLEHostSupp:                     "Write LE Host Supported",
	OpLESetRandomAddress:                  "LE Set Random Address",
	OpLESetAdvertisingParameters:          "LE Set Advertising Parameters",
	OpLESetAdvertisingData:                "LE Set Advertising Data",
	OpLESetScanResponseData:               "LE Set Scan Response Data",
	OpLESetAdvertiseEnable:                "LE Set Advertising Enable",
	OpLERand:                              "LE Rand",
	OpLESetAdvertisingSetRandomAddress:    "LE Set Advertising Set Random Address",
	OpLESetExtendedAdvertisingParameters:  "LE Set Extended Advertising Parameters",
	OpLESetExtendedAdvertisingData:        "LE Set Extended Advertising Data",
	OpLESetExtendedScanResponseData:       "LE Set Extended Scan Response Data",
	OpLESetExtendedAdvertisingEnable:      "LE Set Extended Advertising Enable",
	OpLERemoveAdvertisingSet:              "LE Remove Advertising Set",
	OpLEClearAdvertisingSets:              "LE Clear Advertising Sets",
	OpLESetPeriodicAdvertisingParameters:  "LE Set Periodic Advertising Parameters",
	OpLESetPeriodicAdvertisingData:        "LE Set Periodic Advertising Data",
	OpLESetPeriodicAdvertisingEnable:      "LE Set Periodic Advertising Enable",
	OpLEMultiAdvt:                         "LE Multi Advertising (vendor)",
}
