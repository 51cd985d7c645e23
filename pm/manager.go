package pm

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blehost/corepm/config"
	"github.com/blehost/corepm/internal/cmd"
	"github.com/blehost/corepm/internal/hci"
)

// Kind is the trigger classification for set_mode, spec §4.9.
type Kind uint8

const (
	KindNew Kind = iota
	KindRestart
	KindExecute
)

// InfoFlags are per-peer negotiation bits referenced by the SNIFF
// suppression rule and the controller-event handler (spec §3).
type InfoFlags uint8

const (
	FlagUseSSR   InfoFlags = 1 << 0
	FlagIntSniff InfoFlags = 1 << 1
	FlagAcpSniff InfoFlags = 1 << 2
	FlagSetSniff InfoFlags = 1 << 3
)

func actionBit(a PMAction) uint8 {
	switch a {
	case Park:
		return 1 << 0
	case Sniff:
		return 1 << 1
	case Suspend:
		return 1 << 2
	default:
		return 0
	}
}

const bitParkSniff = uint8(1<<0) | uint8(1<<1)

// Spec is one service's PM policy for one connection state: the action it
// prefers, the allow-mask of low-power modes the service tolerates, the
// delay before the action executes, and — for Sniff — the interval/attempt
// triple the SNIFF_MODE command carries (spec §6's sniff_{max,min}_intervals
// and sniff_attempts overrides).
type Spec struct {
	Action  PMAction
	Allow   uint8
	Timeout time.Duration

	MaxInterval uint16
	MinInterval uint16
	Attempt     uint16
}

// PeerRecord is the per-peer bookkeeping named in spec §3.
type PeerRecord struct {
	Addr            Addr
	Flags           InfoFlags
	PMModeAttempted PMAction
	PMModeFailed    map[PMAction]bool
	PrevLow         bool
	SSRIndex        int
	SCOActive       bool
}

func newPeerRecord(addr Addr) *PeerRecord {
	return &PeerRecord{Addr: addr, PMModeFailed: map[PMAction]bool{}}
}

// SniffGate reports whether the link-policy gate permits issuing SNIFF at
// all (spec §4.9 step 7's "first consult the link-policy gate").
type SniffGate interface {
	SniffAllowed(peer Addr) bool
}

type alwaysAllow struct{}

func (alwaysAllow) SniffAllowed(Addr) bool { return true }

// SCOQuery reports whether a SCO (voice) link is active on peer, per
// bta_dm_get_sco_index in spec §4.9's SSR suppression rule.
type SCOQuery interface {
	SCOActive(peer Addr) bool
}

type noSCO struct{}

func (noSCO) SCOActive(Addr) bool { return false }

// Poster delivers a function call onto the single-threaded main handler.
type Poster interface {
	Post(func())
}

// Manager is the Power Manager state machine (component C9), composed
// over the connected-services table (C7) and timer bank (C8).
type Manager struct {
	table *Table
	bank  *TimerBank
	disp  *cmd.Dispatcher
	main  Poster
	log   *logrus.Entry

	specs map[ServiceId]map[ConnStatus]Spec

	gate     SniffGate
	sco      SCOQuery
	resolver ConnHandleResolver

	scheduleMu sync.Mutex // coarse: held across the whole public SetMode call
	stateMu    sync.Mutex // fine: held only across peer/slot bookkeeping; lock order schedule -> state

	peers map[Addr]*PeerRecord
}

func NewManager(main Poster, disp *cmd.Dispatcher, alarms Alarms, maxServices int, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if maxServices <= 0 {
		maxServices = config.DefaultMaxConnectedServices
	}
	m := &Manager{
		table: NewTable(maxServices),
		bank:  NewTimerBank(7, alarms),
		disp:  disp,
		main:  main,
		log:   log,
		specs: map[ServiceId]map[ConnStatus]Spec{},
		gate:     alwaysAllow{},
		sco:      noSCO{},
		resolver: noResolver{},
		peers:    map[Addr]*PeerRecord{},
	}
	return m
}

// defaultSniffTimeout is used by BuiltinSniffSpec when the host config
// carries no override for idx.
const defaultSniffTimeout = 5 * time.Second

// BuiltinSniffSpec builds the Sniff-action Spec for the PARK_IDX-indexed
// built-in SNIFF power-mode table (spec §6), honoring the host config's
// sniff_{max_intervals,min_intervals,attempts,timeouts} overrides for idx
// when present. Allocating the concrete per-service table itself (which
// profile owns which idx) is the external device/profile collaborator's
// job (spec.md §1); this is the override lookup that table calls into
// before registering a service's Spec via SetSpec.
func BuiltinSniffSpec(cfg config.HostConfig, idx int, allow uint8) Spec {
	timeout := defaultSniffTimeout
	if idx >= 0 && idx < len(cfg.SniffTimeouts) {
		timeout = time.Duration(cfg.SniffTimeouts[idx]) * time.Millisecond
	}
	s := Spec{Action: Sniff, Allow: allow, Timeout: timeout}
	if idx >= 0 && idx < len(cfg.SniffMaxIntervals) {
		s.MaxInterval = cfg.SniffMaxIntervals[idx]
	}
	if idx >= 0 && idx < len(cfg.SniffMinIntervals) {
		s.MinInterval = cfg.SniffMinIntervals[idx]
	}
	if idx >= 0 && idx < len(cfg.SniffAttempts) {
		s.Attempt = cfg.SniffAttempts[idx]
	}
	return s
}

// SetSpec installs the PM policy for (service, state), replacing the
// built-in table entry-per-index, the same override point spec §6
// describes for the sniff interval/attempt/timeout configuration lists.
func (m *Manager) SetSpec(id ServiceId, state ConnStatus, spec Spec) {
	if m.specs[id] == nil {
		m.specs[id] = map[ConnStatus]Spec{}
	}
	m.specs[id][state] = spec
}

func (m *Manager) peer(addr Addr) *PeerRecord {
	p, ok := m.peers[addr]
	if !ok {
		p = newPeerRecord(addr)
		m.peers[addr] = p
	}
	return p
}

// ConnStatusChange records a service's new connection state and re-drives
// the peer's mode decision (spec §4.9's conn_status_change input).
func (m *Manager) ConnStatusChange(id ServiceId, appID AppId, peer Addr, state ConnStatus) {
	if err := m.table.Update(id, appID, peer, state); err != nil {
		m.log.WithError(err).Warn("pm: connected-services table full, dropping request")
		return
	}
	m.SetMode(peer, NoAction, KindNew)
}

// PMTimer is C8's forward of an armed timer firing; it re-drives with
// EXECUTE.
func (m *Manager) PMTimer(peer Addr, desired PMAction) {
	m.SetMode(peer, desired, KindExecute)
}

// SetMode runs the strictness-arbitration algorithm of spec §4.9 for one
// peer. The coarse scheduleMu is taken for the whole call; the fine stateMu
// is taken inside it only around TimerBank.Start (TimerBank has no mutex of
// its own), so the lock order schedule -> state is preserved by never
// taking stateMu before scheduleMu.
func (m *Manager) SetMode(peer Addr, requested PMAction, kind Kind) {
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()

	p, ok := m.peers[peer]
	if !ok {
		return
	}

	var pmAction PMAction
	var allowed, preferred uint8
	var timeout time.Duration
	var chosen Spec

	for _, e := range m.table.ForPeer(peer) {
		specsForSvc, ok := m.specs[e.ID]
		if !ok {
			continue
		}
		spec, ok := specsForSvc[e.State]
		if !ok {
			continue
		}
		allowed |= spec.Allow

		if p.PMModeFailed[spec.Action] {
			continue
		}
		preferred |= actionBit(spec.Action)

		if spec.Action >= pmAction {
			pmAction = spec.Action
			chosen = spec
			if kind != KindNew || e.NewRequest {
				timeout = spec.Timeout
				m.table.ClearNewRequest(e.ID, e.AppID, e.Peer)
			}
		}
	}

	if (pmAction == Park || pmAction == Sniff) && actionBit(pmAction)&allowed == 0 {
		pmAction = bestFromMask(allowed & bitParkSniff & preferred)
		if pmAction == NoAction {
			timeout = 0
		}
	}

	if kind != KindExecute && timeout > 0 {
		idx := actionToIdx(pmAction)
		m.stateMu.Lock()
		m.bank.Start(peer, idx, timeout, 0, pmAction)
		m.stateMu.Unlock()
		return
	}

	if kind == KindExecute && requested < p.PMModeAttempted {
		return
	}

	m.execute(p, pmAction, chosen)
}

func bestFromMask(mask uint8) PMAction {
	if mask&actionBit(Suspend) != 0 {
		return Suspend
	}
	if mask&actionBit(Sniff) != 0 {
		return Sniff
	}
	if mask&actionBit(Park) != 0 {
		return Park
	}
	return NoAction
}

func actionToIdx(a PMAction) TimerIdx {
	switch a {
	case Suspend:
		return IdxSuspend
	case Sniff:
		return IdxSniff
	default:
		return IdxPark
	}
}

// execute issues the SET_POWER_MODE HCI command for the chosen action,
// applying the SNIFF suppression rules of spec §4.9 step 7. spec carries
// the winning service's interval/attempt parameters for Sniff, sourced from
// the host config's sniff_{max,min}_intervals/attempts overrides via
// BuiltinSniffSpec.
func (m *Manager) execute(p *PeerRecord, action PMAction, spec Spec) {
	if action == Sniff {
		if !m.gate.SniffAllowed(p.Addr) {
			return
		}
		if p.Flags&FlagAcpSniff != 0 && p.Flags&FlagUseSSR != 0 {
			return
		}
	}

	var op hci.Opcode
	switch action {
	case Suspend:
		op = hci.OpHoldMode
	case Sniff:
		op = hci.OpSniffMode
	case Park:
		op = hci.OpParkMode
	default:
		op = hci.OpExitSniffMode
	}
	p.PMModeAttempted = action

	param := powerModeParam{op: op, addr: p.Addr}
	if action == Sniff {
		param.maxInterval, param.minInterval, param.attempt = spec.MaxInterval, spec.MinInterval, spec.Attempt
	}
	m.disp.Enqueue(param, func(cmd.Result, error) {})
}

type powerModeParam struct {
	op                               hci.Opcode
	addr                             Addr
	maxInterval, minInterval, attempt uint16
}

func (p powerModeParam) Opcode() hci.Opcode { return p.op }

// Len is 6 (connection handle/address placeholder) for PARK/SUSPEND/ACTIVE,
// or 12 for SNIFF, which additionally carries max/min interval and attempt
// (timeout is supplied by the alarm bank, not the wire command).
func (p powerModeParam) Len() int {
	if p.op == hci.OpSniffMode {
		return 12
	}
	return 6
}

func (p powerModeParam) Marshal(b []byte) {
	copy(b[:6], p.addr[:])
	if p.op != hci.OpSniffMode {
		return
	}
	binary.LittleEndian.PutUint16(b[6:8], p.maxInterval)
	binary.LittleEndian.PutUint16(b[8:10], p.minInterval)
	binary.LittleEndian.PutUint16(b[10:12], p.attempt)
}
