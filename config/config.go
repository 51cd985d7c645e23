// Package config loads the host-recognized tunables named in spec.md §6:
// tx-path-loss compensation, the SNIFF power-mode table overrides, and the
// three boolean feature flags.
//
// Grounded on robolivable-beaves's config package (JSON-decoded struct
// loaded once at startup via encoding/json), generalized from its
// single init()-time os.Open to an explicit Load so corepm.Core can be
// constructed in tests without a file on disk.
package config

import (
	"encoding/json"
	"io"
	"os"
)

// HostConfig is the struct form of spec.md §6's recognized options.
type HostConfig struct {
	// TxPathLossCompDB is added to requested tx power, clipped to
	// [-127, 20] before being sent to the controller.
	TxPathLossCompDB int `json:"le_tx_path_loss_comp_db"`

	// Sniff{Max,Min}Intervals, SniffAttempts and SniffTimeouts override the
	// built-in SNIFF power-mode table, entry-per-index up to PARK_IDX.
	SniffMaxIntervals []uint16 `json:"sniff_max_intervals,omitempty"`
	SniffMinIntervals []uint16 `json:"sniff_min_intervals,omitempty"`
	SniffAttempts     []uint16 `json:"sniff_attempts,omitempty"`
	SniffTimeouts     []uint16 `json:"sniff_timeouts,omitempty"`

	// NRPANonConnectableAdv: non-connectable advertisements under
	// Public/Static policy use NRPA instead of Public.
	NRPANonConnectableAdv bool `json:"nrpa_non_connectable_adv"`

	// DivideLongSingleGapData: a GAP element may exceed 252 bytes; the
	// codec splits across fragments by raw byte count rather than
	// element count.
	DivideLongSingleGapData bool `json:"divide_long_single_gap_data"`

	// BLECheckDataLengthOnLegacyAdvertising: legacy-PDU advertising data
	// is additionally capped at 31 bytes.
	BLECheckDataLengthOnLegacyAdvertising bool `json:"ble_check_data_length_on_legacy_advertising"`

	// MaxConnectedServices bounds the Classic Power Manager's
	// connected-services table (spec.md §4.7's "a flat array (bounded)").
	// Zero (the default, left at the JSON zero value) means "use the
	// built-in default" — see DefaultMaxConnectedServices.
	MaxConnectedServices int `json:"max_connected_services,omitempty"`
}

// DefaultMaxConnectedServices is the connected-services table bound used
// when a HostConfig leaves MaxConnectedServices unset: enough entries for
// several peers each running a handful of profiles (A2DP, HFP, HID, ...)
// concurrently.
const DefaultMaxConnectedServices = 28

// MaxServices returns the effective connected-services table bound:
// MaxConnectedServices if set, otherwise DefaultMaxConnectedServices.
func (c HostConfig) MaxServices() int {
	if c.MaxConnectedServices > 0 {
		return c.MaxConnectedServices
	}
	return DefaultMaxConnectedServices
}

// Default returns the zero-tuned configuration: no path-loss compensation,
// built-in sniff table, all three flags off, default connected-services
// table bound.
func Default() HostConfig {
	return HostConfig{}
}

// Load reads a JSON-encoded HostConfig from path, defaulting any field the
// file omits.
func Load(path string) (HostConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return HostConfig{}, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a JSON-encoded HostConfig from r.
func Decode(r io.Reader) (HostConfig, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

// ClampTxPower applies TxPathLossCompDB to requested dBm, clipped to the
// controller's representable range [-127, 20].
func (c HostConfig) ClampTxPower(requested int) int8 {
	v := requested + c.TxPathLossCompDB
	if v < -127 {
		v = -127
	}
	if v > 20 {
		v = 20
	}
	return int8(v)
}
