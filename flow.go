package corepm

import (
	"time"

	"github.com/blehost/corepm/addrpolicy"
	"github.com/blehost/corepm/advdata"
	"github.com/blehost/corepm/advreg"
	"github.com/blehost/corepm/internal/cmd"
	"github.com/blehost/corepm/internal/leadv"
	"github.com/blehost/corepm/keymat"
)

// startFlow runs spec §4.6's "Start flow (Extended)" steps 1-8. Each step
// that depends on a controller reply is continued from that reply's
// completion callback; steps with no data dependency on a prior reply are
// issued eagerly, relying on the dispatcher's FIFO (C1) to preserve order
// on the wire regardless of when business-logic callbacks actually run.
func (m *Manager) startFlow(id AdvertiserId) {
	a := m.advertisers[id]

	effTy := addrpolicy.Narrow(a.Config.RequestedAddressType, m.policy)
	if !a.Config.Connectable && m.cfg.NRPANonConnectableAdv {
		effTy = addrpolicy.NarrowNonConnectable(a.Config.RequestedAddressType, m.policy)
	}
	a.EffectiveAddrTy = effTy

	addr, err := m.addrMgr.NewAddress(effTy, keymat.DeriveRPA)
	if err != nil {
		m.failStart(a, err)
		return
	}
	a.CurrentAddress = Address{Bytes: addr, Type: effTy}

	params := leadv.SetExtendedAdvParams{
		Handle:       uint8(id),
		Properties:   advPropertiesBits(a.Config),
		IntervalMin:  uint32(a.Config.IntervalMin),
		IntervalMax:  uint32(a.Config.IntervalMax),
		OwnAddrType:  uint8(effTy),
		TxPower:      m.cfg.ClampTxPower(a.Config.TxPower),
		PrimaryPHY:   1, // LE 1M
		SecondaryPHY: 1,
	}
	m.enqueue(params, func(res cmd.Result, err error) {
		if err != nil || res.Status != 0 {
			m.failStart(a, err)
			return
		}
		a.CalibratedTx = parseCalibratedTxPower(res.Return)
		m.continueStartAfterParams(a)
	})
}

func advPropertiesBits(cfg AdvConfig) uint16 {
	var v uint16
	if cfg.Connectable {
		v |= 0x0001
	}
	if cfg.Scannable {
		v |= 0x0002
	}
	if cfg.Directed {
		v |= 0x0004
	}
	if cfg.Legacy {
		v |= 0x0010
	}
	if cfg.Anonymous {
		v |= 0x0020
	}
	if cfg.IncludeTxPower {
		v |= 0x0040
	}
	return v
}

func parseCalibratedTxPower(ret []byte) int8 {
	if len(ret) < 2 {
		return 0
	}
	return int8(ret[1])
}

func (m *Manager) continueStartAfterParams(a *Advertiser) {
	if a.EffectiveAddrTy != addrpolicy.Public {
		m.enqueue(leadv.SetAdvertisingSetRandomAddress{Handle: uint8(a.ID), Addr: a.CurrentAddress.Bytes}, func(cmd.Result, error) {
			m.continueStartAfterAddress(a)
		})
		return
	}
	m.continueStartAfterAddress(a)
}

func (m *Manager) continueStartAfterAddress(a *Advertiser) {
	if a.EffectiveAddrTy != addrpolicy.Public {
		m.alarms.Schedule(advreg.RotationToken(int(a.ID)), nextPrivateAddressIntervalMs*time.Millisecond)
	}

	if err := m.writeData(a, false); err != nil {
		m.failStart(a, err)
		return
	}
	if a.Config.Scannable || a.Config.Legacy {
		if err := m.writeData(a, true); err != nil {
			m.failStart(a, err)
			return
		}
	}

	if a.IsPeriodic && a.PeriodicData.hasContent() {
		m.writePeriodicData(a)
		m.enqueue(leadv.SetPeriodicAdvEnable{Enable: true, Handle: uint8(a.ID)}, func(cmd.Result, error) {})
	}

	if m.paused {
		m.pendingEnabled[a.ID] = true
		return
	}
	m.writeEnable(a, true)
}

func (p *payload) hasContent() bool { return p != nil && p.plain != nil && len(p.plain.Elements) > 0 }

// writeData builds the final wire payload (flags auto-insert, tx-power
// patch, optional seal) and fragments it across the codec's fragment
// limit, per spec §4.4. The auto-inserted FLAGS triple (and, when present,
// the sealed element) can push a payload that passed SetData's gate over
// the controller max, so the assembled payload is re-validated here, before
// anything is fragmented or written to the wire.
func (m *Manager) writeData(a *Advertiser, isScanRsp bool) error {
	p := a.Advertisement
	if isScanRsp {
		p = a.ScanResponse
	}
	if p == nil {
		return nil
	}

	final := clonePayload(p.plain)
	if !isScanRsp && a.Config.Connectable && a.Config.Discoverable {
		bits := uint8(advdata.FlagGeneralDiscoverable)
		if a.DurationTicks != 0 {
			bits = advdata.FlagLimitedDiscoverable
		}
		final.AppendFlags(bits)
	}
	if a.Config.IncludeTxPower {
		final.PatchTxPower(a.CalibratedTx)
	}

	if p.hasEnc() && a.HaveKey {
		el, randomizer, err := advdata.Seal(p.enc, a.KeyMaterial.Key, a.KeyMaterial.IV)
		if err != nil {
			m.log.WithError(err).Warn("corepm: seal failed, sending plaintext only")
		} else {
			copy(p.randomizer[:], randomizer)
			p.haveSeal = true
			final.Elements = append(final.Elements, el)
		}
	}

	if err := final.Validate(m.maxLen, a.Config.Legacy, m.cfg.BLECheckDataLengthOnLegacyAdvertising); err != nil {
		return err
	}

	raw := final.Marshal()
	frags := advdata.Fragmentize(raw)
	for _, f := range frags {
		m.enqueue(leadv.SetExtendedAdvData{Handle: uint8(a.ID), Operation: f.Op, Data: f.Data, ScanResp: isScanRsp}, func(cmd.Result, error) {})
	}
	return nil
}

func (m *Manager) writePeriodicData(a *Advertiser) {
	p := a.PeriodicData
	final := clonePayload(p.plain)
	if p.hasEnc() && a.HaveKey {
		el, randomizer, err := advdata.Seal(p.enc, a.KeyMaterial.Key, a.KeyMaterial.IV)
		if err == nil {
			copy(p.randomizer[:], randomizer)
			final.Elements = append(final.Elements, el)
		}
	}
	raw := final.Marshal()
	frags := advdata.Fragmentize(raw)
	for _, f := range frags {
		m.enqueue(leadv.SetPeriodicAdvData{Handle: uint8(a.ID), Operation: f.Op, Data: f.Data}, func(cmd.Result, error) {})
	}
}

func clonePayload(p *advdata.Payload) *advdata.Payload {
	cp := &advdata.Payload{Elements: make([]advdata.Element, len(p.Elements))}
	copy(cp.Elements, p.Elements)
	return cp
}

func (m *Manager) writeEnable(a *Advertiser, enable bool) {
	m.enqueue(leadv.SetExtendedAdvEnable{Enable: enable, Handle: uint8(a.ID), Duration: a.DurationTicks, MaxEvents: a.MaxEvents}, func(res cmd.Result, err error) {
		if err != nil || res.Status != 0 {
			if enable {
				m.failStart(a, err)
			}
			return
		}
		a.Started = enable
		if enable && a.OnStarted != nil {
			a.OnStarted(a.RegID, a.ID, a.CalibratedTx, StatusSuccess)
		}
	})
}

// failStart surfaces a start failure and resets the set, per spec §7:
// "the advertising set is not automatically removed unless its start
// command failed, in which case it is reset."
func (m *Manager) failStart(a *Advertiser, err error) {
	if a.OnStarted != nil {
		a.OnStarted(a.RegID, a.ID, 0, StatusInternalError)
	}
	m.RemoveAdvertiser(a.ID)
}

// onAlarmFire dispatches a fired alarm token to the rotation handler if it
// is a rotation token for a live, enabled set (spec §4.6 "Address
// rotation").
func (m *Manager) onAlarmFire(token string) {
	for id, a := range m.advertisers {
		if advreg.RotationToken(int(id)) != token {
			continue
		}
		if !a.Started {
			return
		}
		m.rotate(a)
		return
	}
}

// rotate implements spec §4.6's "Address rotation" timer-fire sequence.
func (m *Manager) rotate(a *Advertiser) {
	next := func() {
		addr, err := m.addrMgr.NewAddress(a.EffectiveAddrTy, keymat.DeriveRPA)
		if err != nil {
			m.log.WithError(err).Warn("corepm: rotation address mint failed")
			return
		}
		m.enqueue(leadv.SetAdvertisingSetRandomAddress{Handle: uint8(a.ID), Addr: addr}, func(cmd.Result, error) {
			a.CurrentAddress = Address{Bytes: addr, Type: a.EffectiveAddrTy}

			if a.Advertisement.hasEnc() {
				if err := m.writeData(a, false); err != nil {
					m.log.WithError(err).Warn("corepm: rotation write rejected, data too large")
				}
			}
			if a.ScanResponse.hasEnc() {
				if err := m.writeData(a, true); err != nil {
					m.log.WithError(err).Warn("corepm: rotation write rejected, data too large")
				}
			}
			if a.IsPeriodic && a.PeriodicData.hasEnc() {
				m.writePeriodicData(a)
			}

			if a.Config.Connectable && !m.paused {
				m.writeEnable(a, true)
			}
			m.alarms.Schedule(advreg.RotationToken(int(a.ID)), nextPrivateAddressIntervalMs*time.Millisecond)
		})
	}

	if a.Config.Connectable {
		m.enqueue(leadv.SetExtendedAdvEnable{Enable: false, Handle: uint8(a.ID)}, func(cmd.Result, error) {
			next()
		})
		return
	}
	next()
}

// OnIRKChange rotates every enabled set's address synchronously, per spec
// §4.2/§4.6.
func (m *Manager) OnIRKChange(irk [16]byte) {
	m.addrMgr.SetIRK(irk)
	for _, a := range m.advertisers {
		if a.Started && a.EffectiveAddrTy != addrpolicy.Public {
			m.rotate(a)
		}
	}
}

// Pause disables every currently enabled set, remembering which ids were
// enabled so Resume can bring back exactly that set (spec §4.6
// "Pause / Resume").
func (m *Manager) Pause() {
	m.paused = true
	m.enabledBeforePause = map[AdvertiserId]bool{}
	for id, a := range m.advertisers {
		if a.Started {
			m.enabledBeforePause[id] = true
			m.writeEnable(a, false)
		}
	}
}

// Resume re-enables exactly the set of ids Pause recorded, and flushes any
// enable/disable requests that arrived while paused.
func (m *Manager) Resume() {
	m.paused = false
	for id := range m.enabledBeforePause {
		if a, ok := m.advertisers[id]; ok {
			m.writeEnable(a, true)
		}
	}
	m.enabledBeforePause = map[AdvertiserId]bool{}

	pending := m.pendingEnabled
	m.pendingEnabled = map[AdvertiserId]bool{}
	for id, enable := range pending {
		if a, ok := m.advertisers[id]; ok {
			m.writeEnable(a, enable)
		}
	}
}
