package corepm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/blehost/corepm/addrpolicy"
	"github.com/blehost/corepm/advdata"
	"github.com/blehost/corepm/advreg"
	"github.com/blehost/corepm/alarm"
	"github.com/blehost/corepm/config"
	"github.com/blehost/corepm/internal/cmd"
	"github.com/blehost/corepm/internal/leadv"
	"github.com/blehost/corepm/keymat"
)

// nextPrivateAddressIntervalMs is the default rotation period (spec §4.6
// step 5); 15 minutes, matching the duration scenario S5 exercises.
const nextPrivateAddressIntervalMs = 15 * 60 * 1000

// Manager is the Advertising Manager (component C6): the state machine of
// start/update/rotate/enable/terminate for every advertising set, composed
// over C1 (dispatcher), C2 (address policy), C3 (alarms), C4 (codec) and
// C5 (registry).
//
// Grounded on the teacher's gatt.Server, which is likewise a composition
// root wiring a transport, a registry of live objects and a codec behind
// one public surface; the per-set start sequence itself is new (the
// teacher has no analogous multi-step HCI choreography), built from
// spec.md §4.6 using the dispatcher's FIFO ordering as the only
// synchronization primitive, the same way the teacher relies on cmd.Cmd's
// FIFO for GATT procedure ordering.
type Manager struct {
	api    APIType
	maxLen int // controller-reported max advertising data length

	registry *advreg.Registry
	addrMgr  *addrpolicy.Manager
	alarms   *alarm.Service
	disp     *cmd.Dispatcher
	keys     *keymat.Store
	policy   addrpolicy.Policy
	cfg      config.HostConfig

	log *logrus.Entry

	advertisers map[AdvertiserId]*Advertiser

	paused             bool
	enabledBeforePause map[AdvertiserId]bool
	pendingEnabled     map[AdvertiserId]bool
}

// NewManager constructs the advertising manager. maxLen is the
// controller-reported maximum advertising data length; api selects the
// command family.
func NewManager(api APIType, maxLen int, policy addrpolicy.Policy, registry *advreg.Registry, addrMgr *addrpolicy.Manager, alarms *alarm.Service, disp *cmd.Dispatcher, keys *keymat.Store, cfg config.HostConfig, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		api: api, maxLen: maxLen, policy: policy,
		registry: registry, addrMgr: addrMgr, alarms: alarms, disp: disp, keys: keys, cfg: cfg,
		log:                log,
		advertisers:        map[AdvertiserId]*Advertiser{},
		enabledBeforePause: map[AdvertiserId]bool{},
		pendingEnabled:     map[AdvertiserId]bool{},
	}
	alarms.SetOnFire(m.onAlarmFire)
	return m
}

func (m *Manager) get(id AdvertiserId) (*Advertiser, error) {
	a, ok := m.advertisers[id]
	if !ok || !a.InUse {
		return nil, newErr("lookup", id, StatusInternalError, fmt.Errorf("unknown advertiser"))
	}
	return a, nil
}

// RegisterAdvertiser allocates an id without configuring it (spec §4.6's
// register_advertiser).
func (m *Manager) RegisterAdvertiser() (AdvertiserId, error) {
	rawID, err := m.registry.Allocate()
	if err != nil {
		return 0, newErr("register_advertiser", -1, StatusTooManyAdvertisers, err)
	}
	id := AdvertiserId(rawID)
	m.advertisers[id] = &Advertiser{ID: id, InUse: true}
	return id, nil
}

// CreateExtendedAdvertiser allocates an id, configures it, and runs the
// start flow (spec §4.6 "Start flow (Extended)").
func (m *Manager) CreateExtendedAdvertiser(clientID, regID int, cfg AdvConfig, duration uint16, maxEvents uint8) (AdvertiserId, error) {
	id, err := m.RegisterAdvertiser()
	if err != nil {
		return 0, err
	}
	a := m.advertisers[id]
	a.ClientID, a.RegID = clientID, regID
	a.Config = cfg
	a.DurationTicks, a.MaxEvents = duration, maxEvents
	a.Advertisement = newPayload()
	a.ScanResponse = newPayload()
	a.PeriodicData = newPayload()

	m.startFlow(id)
	return id, nil
}

// SetParameters updates an existing set's configuration. Takes effect on
// the next enable/rotation; does not itself touch HCI beyond recording the
// change (spec §4.6, set_parameters).
func (m *Manager) SetParameters(id AdvertiserId, cfg AdvConfig) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.Config = cfg
	return nil
}

// SetData installs plaintext (and, optionally, to-be-sealed) advertising
// or scan-response data, validating its length before any HCI is touched
// (spec §4.4's length gate, spec §8's "Length gate" property).
func (m *Manager) SetData(id AdvertiserId, isScanRsp bool, plain *advdata.Payload, enc *advdata.Payload) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	plain.AllowOversizeElements(m.cfg.DivideLongSingleGapData)
	if err := plain.Validate(m.maxLen, a.Config.Legacy, m.cfg.BLECheckDataLengthOnLegacyAdvertising); err != nil {
		return newErr("set_data", id, StatusDataTooLarge, err)
	}

	p := &payload{plain: plain, enc: enc}
	if isScanRsp {
		a.ScanResponse = p
	} else {
		a.Advertisement = p
	}

	if a.Started {
		if err := m.writeData(a, isScanRsp); err != nil {
			return newErr("set_data", id, StatusDataTooLarge, err)
		}
	}
	return nil
}

// SetPeriodicData installs periodic advertising payload data.
func (m *Manager) SetPeriodicData(id AdvertiserId, plain *advdata.Payload, enc *advdata.Payload) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	plain.AllowOversizeElements(m.cfg.DivideLongSingleGapData)
	if err := plain.Validate(m.maxLen, false, m.cfg.BLECheckDataLengthOnLegacyAdvertising); err != nil {
		return newErr("set_periodic_data", id, StatusDataTooLarge, err)
	}
	a.PeriodicData = &payload{plain: plain, enc: enc}
	if a.Started && a.IsPeriodic {
		m.writePeriodicData(a)
	}
	return nil
}

// SetPeriodicParameters marks a set as carrying periodic advertising and
// records its interval.
func (m *Manager) SetPeriodicParameters(id AdvertiserId, intervalMin, intervalMax uint16) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.IsPeriodic = true
	m.enqueue(leadv.SetPeriodicAdvParams{Handle: uint8(id), IntervalMin: intervalMin, IntervalMax: intervalMax}, func(cmd.Result, error) {})
	return nil
}

// Enable starts or stops advertising on id. If the host is paused, the
// request is remembered in pending_enabled_sets instead of reaching HCI
// (spec §4.6 "If the host is currently paused").
func (m *Manager) Enable(id AdvertiserId, enable bool, duration uint16, maxEvents uint8) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.DurationTicks, a.MaxEvents = duration, maxEvents

	if m.paused {
		m.pendingEnabled[id] = enable
		return nil
	}
	m.writeEnable(a, enable)
	return nil
}

// EnablePeriodic starts or stops periodic advertising on id.
func (m *Manager) EnablePeriodic(id AdvertiserId, enable bool, includeADI bool) error {
	if _, err := m.get(id); err != nil {
		return err
	}
	m.enqueue(leadv.SetPeriodicAdvEnable{Enable: enable, IncludeADI: includeADI, Handle: uint8(id)}, func(cmd.Result, error) {})
	return nil
}

// GetOwnAddress returns the set's current address.
func (m *Manager) GetOwnAddress(id AdvertiserId) (Address, error) {
	a, err := m.get(id)
	if err != nil {
		return Address{}, err
	}
	return a.CurrentAddress, nil
}

// RemoveAdvertiser tears down id: cancels its rotation alarm and frees its
// registry slot (spec §4.5 reset).
func (m *Manager) RemoveAdvertiser(id AdvertiserId) error {
	if _, err := m.get(id); err != nil {
		return err
	}
	m.enqueue(leadv.RemoveAdvertisingSet{Handle: uint8(id)}, func(cmd.Result, error) {})
	delete(m.advertisers, id)
	m.registry.Reset(int(id))
	return nil
}

// ResetAdvertiser is an alias for RemoveAdvertiser exposed by spec §4.6's
// public surface under its own name.
func (m *Manager) ResetAdvertiser(id AdvertiserId) error { return m.RemoveAdvertiser(id) }

// enqueue is a thin wrapper recording the command in the log before handing
// it to the dispatcher.
func (m *Manager) enqueue(p cmd.Param, done func(cmd.Result, error)) {
	m.log.WithField("opcode", p.Opcode()).Trace("corepm: > command")
	m.disp.Enqueue(p, done)
}
