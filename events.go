package corepm

import (
	"time"

	"github.com/blehost/corepm/addrpolicy"
	"github.com/blehost/corepm/advreg"
	"github.com/blehost/corepm/internal/hci"
	"github.com/blehost/corepm/keymat"
)

// OnSetTerminated handles LE_Advertising_Set_Terminated, spec §4.6
// "Set-terminated handling".
func (m *Manager) OnSetTerminated(ep hci.AdvertisingSetTerminatedEP) {
	id := AdvertiserId(ep.AdvertisingHandle)
	a, ok := m.advertisers[id]
	if !ok {
		return
	}

	m.alarms.Cancel(advreg.RotationToken(int(id)))
	a.Started = false

	const (
		statusLimitReached    = 0x43
		statusAdvTimeout      = 0x3C
	)
	switch ep.Status {
	case statusLimitReached, statusAdvTimeout:
		status := StatusLimitReached
		if ep.Status == statusAdvTimeout {
			status = StatusAdvertisingTimeout
		}
		if a.OnStarted != nil {
			a.OnStarted(a.RegID, a.ID, 0, status)
		}
		return
	}

	if a.DurationTicks == 0 && a.MaxEvents == 0 && !a.Config.Directed {
		m.writeEnable(a, true)
		if a.EffectiveAddrTy != addrpolicy.Public {
			m.alarms.Schedule(advreg.RotationToken(int(id)), nextPrivateAddressIntervalMs*time.Millisecond)
		}
	}
}

// OnScanRequestReceived handles LE_Scan_Request_Received, spec §4.6
// "Scan-request-received".
func (m *Manager) OnScanRequestReceived(ep hci.ScanRequestReceivedEP, deliver func(addr [6]byte, addrType uint8)) {
	id := AdvertiserId(ep.AdvertisingHandle)
	if _, ok := m.advertisers[id]; !ok {
		return
	}
	if deliver != nil {
		deliver(ep.ScannerAddr, ep.ScannerAddrType)
	}
}

// SetKeyMaterial installs fresh encrypted-advertising key material on id,
// typically invoked from a keymat.Store's change callback.
func (m *Manager) SetKeyMaterial(id AdvertiserId, mat keymat.Material) {
	a, ok := m.advertisers[id]
	if !ok {
		return
	}
	a.KeyMaterial = EncryptedKeyMaterial{Key: mat.Key, IV: mat.IV}
	a.HaveKey = true
}
