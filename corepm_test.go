package corepm

import (
	"testing"

	"github.com/blehost/corepm/addrpolicy"
	"github.com/blehost/corepm/advdata"
	"github.com/blehost/corepm/advreg"
	"github.com/blehost/corepm/alarm"
	"github.com/blehost/corepm/config"
	"github.com/blehost/corepm/internal/cmd"
	"github.com/blehost/corepm/internal/hci"
	"github.com/blehost/corepm/keymat"
)

// inlinePoster runs posted functions synchronously, standing in for the
// single-threaded main handler these tests don't need a goroutine for.
type inlinePoster struct{}

func (inlinePoster) Post(fn func()) { fn() }

// loopbackWriter completes every command it "writes" immediately and
// synchronously, so a full multi-step HCI flow (spec §4.6's start flow)
// runs to completion within one call into the manager, the same "no real
// transport, just a wire-shaped round trip" harness internal/cmd's own
// Dispatcher needs.
type loopbackWriter struct {
	disp    *cmd.Dispatcher
	opcodes []hci.Opcode
	txPower int8
}

func (w *loopbackWriter) Write(b []byte) (int, error) {
	op := hci.Opcode(uint16(b[1]) | uint16(b[2])<<8)
	w.opcodes = append(w.opcodes, op)

	ret := []byte{0x00}
	if op == hci.OpLESetExtendedAdvertisingParameters {
		ret = []byte{0x00, byte(w.txPower)}
	}
	w.disp.HandleCommandComplete(hci.CommandCompleteEP{CommandOpcode: uint16(op), ReturnParameters: ret})
	return len(b), nil
}

type stubUnregisterer struct{}

func (stubUnregisterer) UnregisterAll() {}

type harness struct {
	mgr *Manager
	w   *loopbackWriter
}

func newHarness(t *testing.T, policy addrpolicy.Policy) *harness {
	t.Helper()
	w := &loopbackWriter{txPower: -7}
	disp := cmd.New(w, inlinePoster{}, nil)
	w.disp = disp

	alarms := alarm.New(inlinePoster{}, nil)
	registry := advreg.New(advreg.Extended, 4, alarms, stubUnregisterer{})
	addrMgr := addrpolicy.NewManager(addrpolicy.Identity{Addr: [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}})
	keys := keymat.NewStore(fakeKeyBackend{}, disp, nil)

	mgr := NewManager(APIExtended, 1650, policy, registry, addrMgr, alarms, disp, keys, config.HostConfig{}, nil)
	return &harness{mgr: mgr, w: w}
}

type fakeKeyBackend struct{}

func (fakeKeyBackend) Load() (keymat.Material, bool, error) { return keymat.Material{}, false, nil }
func (fakeKeyBackend) Store(keymat.Material) error           { return nil }

func basicConfig() AdvConfig {
	return AdvConfig{
		RequestedAddressType: addrpolicy.Public,
		Legacy:                false,
		Connectable:           true,
		Scannable:             false,
		Discoverable:          true,
		IntervalMin:           0x00A0,
		IntervalMax:           0x00A0,
	}
}

// TestCreateExtendedAdvertiser_StartFlowSequence exercises spec §4.6's
// start flow end to end: params, data, enable, each completed on the wire
// in strict order, ending with the set marked Started and OnStarted fired.
func TestCreateExtendedAdvertiser_StartFlowSequence(t *testing.T) {
	h := newHarness(t, addrpolicy.PublicOnly)

	var startedStatus Status
	var startedCalled bool

	id, err := h.mgr.CreateExtendedAdvertiser(1, 0, basicConfig(), 0, 0)
	if err != nil {
		t.Fatalf("CreateExtendedAdvertiser: %v", err)
	}
	a := h.mgr.advertisers[id]
	a.OnStarted = func(regID int, gotID AdvertiserId, txPower int8, status Status) {
		startedCalled = true
		startedStatus = status
	}
	// Re-run through SetData/Enable manually isn't needed: startFlow already
	// ran inside CreateExtendedAdvertiser, but OnStarted was wired after the
	// fact, so trigger the observable parts again via the public surface.
	if err := h.mgr.SetData(id, false, &advdata.Payload{}, nil); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if err := h.mgr.Enable(id, true, 0, 0); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if !startedCalled {
		t.Fatalf("expected OnStarted to fire")
	}
	if startedStatus != StatusSuccess {
		t.Fatalf("OnStarted status = %v, want StatusSuccess", startedStatus)
	}
	if !a.Started {
		t.Fatalf("expected advertiser to be marked Started")
	}

	found := map[hci.Opcode]bool{}
	for _, op := range h.w.opcodes {
		found[op] = true
	}
	for _, want := range []hci.Opcode{
		hci.OpLESetExtendedAdvertisingParameters,
		hci.OpLESetExtendedAdvertisingEnable,
	} {
		if !found[want] {
			t.Fatalf("opcode %v never written; got %v", want, h.w.opcodes)
		}
	}
	// A Public-policy set never needs SetAdvertisingSetRandomAddress.
	if found[hci.OpLESetAdvertisingSetRandomAddress] {
		t.Fatalf("public-address set issued a random address command")
	}
}

// TestCreateExtendedAdvertiser_PrivateAddressSchedulesRotation verifies
// that a non-public effective address type both writes the random-address
// command and arms the rotation alarm (spec §4.6 step 5).
func TestCreateExtendedAdvertiser_PrivateAddressSchedulesRotation(t *testing.T) {
	h := newHarness(t, addrpolicy.PolicyNRPA)

	cfg := basicConfig()
	cfg.RequestedAddressType = addrpolicy.NRPA
	id, err := h.mgr.CreateExtendedAdvertiser(1, 0, cfg, 0, 0)
	if err != nil {
		t.Fatalf("CreateExtendedAdvertiser: %v", err)
	}

	found := false
	for _, op := range h.w.opcodes {
		if op == hci.OpLESetAdvertisingSetRandomAddress {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a SetAdvertisingSetRandomAddress command for an NRPA set")
	}
	if !h.mgr.alarms.Pending(advreg.RotationToken(int(id))) {
		t.Fatalf("expected the rotation alarm to be armed for a private-address set")
	}
}

func TestSetData_RejectsOversizePayload(t *testing.T) {
	h := newHarness(t, addrpolicy.PublicOnly)
	id, err := h.mgr.RegisterAdvertiser()
	if err != nil {
		t.Fatalf("RegisterAdvertiser: %v", err)
	}
	h.mgr.advertisers[id].Config = basicConfig()

	big := &advdata.Payload{}
	big.AllowOversizeElements(true)
	big.Append(advdata.TypeManufacturer, make([]byte, 2000))

	if err := h.mgr.SetData(id, false, big, nil); err == nil {
		t.Fatalf("expected SetData to reject a payload over the controller max")
	}
}

// fillPayload builds a payload whose serialized length is exactly total
// bytes, using elements no larger than the per-element cap.
func fillPayload(total int) *advdata.Payload {
	p := &advdata.Payload{}
	remaining := total
	for remaining > 0 {
		dataLen := remaining - 2
		if dataLen > 252 {
			dataLen = 252
		}
		p.Append(advdata.TypeManufacturer, make([]byte, dataLen))
		remaining -= dataLen + 2
	}
	return p
}

// TestSetData_RejectsPayloadThatOverflowsOnceFlagsAreAutoInserted covers
// spec §4.4's requirement that the auto-inserted FLAGS triple counts toward
// the controller-max gate: a payload that fits on its own but pushes a
// connectable+discoverable set's auto-FLAGS total over maxLen must be
// rejected, not silently written oversized.
func TestSetData_RejectsPayloadThatOverflowsOnceFlagsAreAutoInserted(t *testing.T) {
	h := newHarness(t, addrpolicy.PublicOnly)

	cfg := basicConfig()
	cfg.Connectable = true
	cfg.Discoverable = true
	id, err := h.mgr.CreateExtendedAdvertiser(1, 0, cfg, 0, 0)
	if err != nil {
		t.Fatalf("CreateExtendedAdvertiser: %v", err)
	}

	// maxLen - 2 bytes: passes the raw length gate, but +3 bytes of
	// auto-inserted FLAGS pushes it one byte over maxLen (1650).
	plain := fillPayload(1650 - 2)
	if err := h.mgr.SetData(id, false, plain, nil); err == nil {
		t.Fatalf("expected SetData to reject a payload that overflows once FLAGS is auto-inserted")
	}
}

func TestEnable_WhilePausedIsDeferred(t *testing.T) {
	h := newHarness(t, addrpolicy.PublicOnly)
	id, err := h.mgr.CreateExtendedAdvertiser(1, 0, basicConfig(), 0, 0)
	if err != nil {
		t.Fatalf("CreateExtendedAdvertiser: %v", err)
	}
	h.mgr.Pause()
	before := len(h.w.opcodes)

	if err := h.mgr.Enable(id, true, 0, 0); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if len(h.w.opcodes) != before {
		t.Fatalf("Enable while paused wrote to HCI; opcodes before=%d after=%d", before, len(h.w.opcodes))
	}
	if !h.mgr.pendingEnabled[id] {
		t.Fatalf("expected the enable request to be recorded as pending")
	}

	h.mgr.Resume()
	found := false
	for _, op := range h.w.opcodes[before:] {
		if op == hci.OpLESetExtendedAdvertisingEnable {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Resume to flush the deferred enable")
	}
}

func TestRemoveAdvertiser_FreesRegistrySlotForReuse(t *testing.T) {
	h := newHarness(t, addrpolicy.PublicOnly)
	id, err := h.mgr.CreateExtendedAdvertiser(1, 0, basicConfig(), 0, 0)
	if err != nil {
		t.Fatalf("CreateExtendedAdvertiser: %v", err)
	}
	if err := h.mgr.RemoveAdvertiser(id); err != nil {
		t.Fatalf("RemoveAdvertiser: %v", err)
	}
	if _, err := h.mgr.get(id); err == nil {
		t.Fatalf("expected the removed advertiser to be gone")
	}

	id2, err := h.mgr.RegisterAdvertiser()
	if err != nil {
		t.Fatalf("RegisterAdvertiser after remove: %v", err)
	}
	if id2 != id {
		t.Fatalf("RegisterAdvertiser reused id %v, want the freed id %v", id2, id)
	}
}

