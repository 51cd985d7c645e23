package pm

import (
	"github.com/blehost/corepm/internal/cmd"
	"github.com/blehost/corepm/internal/hci"
)

// hciStatusSuccess mirrors the Bluetooth Core Specification's HCI
// success code.
const hciStatusSuccess = 0x00

// ConnHandleResolver maps a controller connection handle to a peer
// address; production code supplies the device-table lookup (out of
// scope per spec.md §1 "test scaffolding, storage backends").
type ConnHandleResolver interface {
	PeerForHandle(handle uint16) (Addr, bool)
}

type noResolver struct{}

func (noResolver) PeerForHandle(uint16) (Addr, bool) { return Addr{}, false }

// SetConnHandleResolver installs the connection-handle-to-peer lookup used
// by OnModeChange and OnSniffSubrating.
func (m *Manager) SetConnHandleResolver(r ConnHandleResolver) {
	m.resolver = r
}

// OnModeChange handles the Mode_Change event, spec §4.9's controller event
// handling for pm_btm_status(ACTIVE/PARK/SNIFF).
func (m *Manager) OnModeChange(ep hci.ModeChangeEP) {
	peer, ok := m.resolver.PeerForHandle(ep.ConnectionHandle)
	if !ok {
		return
	}
	p := m.peer(peer)

	switch ep.CurrentMode {
	case 0: // ACTIVE
		if ep.Status != hciStatusSuccess {
			p.PMModeFailed[p.PMModeAttempted] = true
			m.bank.Stop(peer, actionToIdx(p.PMModeAttempted))
			m.SetMode(peer, NoAction, KindRestart)
			return
		}
		if p.PrevLow && p.Flags&FlagUseSSR != 0 {
			m.issueSSR(peer, 0)
		}
		m.SetMode(peer, NoAction, KindRestart)
	case 2, 3: // PARK, HOLD
		if p.Flags&FlagUseSSR != 0 {
			p.PrevLow = true
		}
	case 1: // SNIFF
		idx := IdxSniff
		if ep.Status == hciStatusSuccess {
			m.bank.Stop(peer, idx)
			return
		}
		if p.Flags&FlagSetSniff != 0 {
			p.Flags |= FlagIntSniff
		} else {
			p.Flags |= FlagAcpSniff
		}
	}
}

// OnSniffSubrating handles the Sniff_Subrating event.
func (m *Manager) OnSniffSubrating(ep hci.SniffSubratingEP) {
	peer, ok := m.resolver.PeerForHandle(ep.ConnectionHandle)
	if !ok || ep.Status != hciStatusSuccess {
		return
	}
	p := m.peer(peer)
	if ep.MaxRxLatency > 0 || ep.MaxTxLatency > 0 {
		p.Flags |= FlagUseSSR
	} else {
		p.Flags &^= FlagUseSSR
	}
}

// ConnOpen runs the SSR-selection pass of spec §4.9 for peer. While SCO is
// active it issues zeroed SSR params and returns; otherwise it issues SSR
// index 0. It does not compare per-service max_latency values and has no
// A2DP busy/idle override.
func (m *Manager) ConnOpen(peer Addr) {
	p := m.peer(peer)
	if m.sco.SCOActive(peer) {
		p.SCOActive = true
		m.issueSSR(peer, -1) // zero params while SCO is active
		return
	}

	best := -1
	for range m.table.ForPeer(peer) {
		// Real selection compares each service's SSR spec max_latency and,
		// for A2DP, its SYS_CONN_BUSY/IDLE override; the concrete latency
		// table is an external device/profile collaborator (spec.md §1),
		// so this always picks the conservative default index 0.
		if best < 0 {
			best = 0
		}
	}
	if best < 0 {
		best = 0
	}
	p.SSRIndex = best
	m.issueSSR(peer, best)
}

// SCOClose restores SSR index 0 once a voice link tears down.
func (m *Manager) SCOClose(peer Addr) {
	p := m.peer(peer)
	p.SCOActive = false
	m.issueSSR(peer, 0)
}

// issueSSR emits BTM_SetSsrParams for peer at ssrIndex, unless SCO is
// active on the peer (spec §8's "SSR suppression under SCO" property).
// ssrIndex == -1 means "zero SSR params" (SCO just opened).
func (m *Manager) issueSSR(peer Addr, ssrIndex int) {
	p := m.peer(peer)
	if p.SCOActive && ssrIndex != -1 {
		return
	}
	m.disp.Enqueue(ssrParam{peer: peer, index: ssrIndex}, func(cmd.Result, error) {})
}

type ssrParam struct {
	peer  Addr
	index int
}

func (p ssrParam) Opcode() hci.Opcode { return hci.OpSniffSubrating }
func (p ssrParam) Len() int           { return 6 + 2 }
func (p ssrParam) Marshal(b []byte) {
	copy(b[:6], p.peer[:])
	idx := p.index
	if idx < 0 {
		idx = 0
	}
	b[6] = byte(idx)
	b[7] = byte(idx >> 8)
}
