// Package pm implements the Classic Power Manager: the connected-services
// table (C7), the timer bank (C8) and the power manager state machine
// (C9) that arbitrates ACTIVE/SNIFF/PARK requests across a peer's
// services, coordinates sniff-subrating, and reacts to controller
// mode-change notifications.
//
// Grounded on the teacher's handle table in handle_linux.go (a bounded
// slice, linear lookup, compaction on delete) for the connected-services
// table's "small N, linear scan, compact on delete" shape named in
// spec.md §4.7.
package pm

// Addr is a peer's Bluetooth device address.
type Addr [6]byte

// ServiceId identifies a profile/service (A2DP, HFP, HID, ...).
type ServiceId uint8

// AppId identifies the owning application instance of a service.
type AppId uint8

// ConnStatus is the service connection state driving PM decisions.
type ConnStatus uint8

const (
	StatusNoPref ConnStatus = iota
	StatusOpen
	StatusClose
	StatusBusy
	StatusIdle
)

// ServiceEntry is one row of the connected-services table (spec §4.7).
type ServiceEntry struct {
	ID         ServiceId
	AppID      AppId
	State      ConnStatus
	Peer       Addr
	NewRequest bool
}

// Table is the bounded connected-services table (component C7). update
// finds-or-creates an entry; NO_PREF deletes by compaction, preserving
// iteration order for the services that remain, since spec §4.9's
// strictness loop depends on stable ordering after compaction.
type Table struct {
	entries []ServiceEntry
	max     int
}

// ErrTableFull is returned by Update when an insert would exceed the
// table's bound.
type tableFullError struct{}

func (tableFullError) Error() string { return "pm: connected-services table full" }

var ErrTableFull error = tableFullError{}

func NewTable(max int) *Table {
	return &Table{max: max}
}

// Update finds or creates the (id, appID, peer) entry and sets its state.
// A NO_PREF state removes the entry by compaction. Returns ErrTableFull if
// a new entry would exceed the table's bound.
func (t *Table) Update(id ServiceId, appID AppId, peer Addr, state ConnStatus) error {
	for i := range t.entries {
		e := &t.entries[i]
		if e.ID == id && e.AppID == appID && e.Peer == peer {
			if state == StatusNoPref {
				t.entries = append(t.entries[:i], t.entries[i+1:]...)
				return nil
			}
			e.State = state
			e.NewRequest = true
			return nil
		}
	}
	if state == StatusNoPref {
		return nil
	}
	if t.max > 0 && len(t.entries) >= t.max {
		return ErrTableFull
	}
	t.entries = append(t.entries, ServiceEntry{ID: id, AppID: appID, State: state, Peer: peer, NewRequest: true})
	return nil
}

// ForPeer returns the live entries for peer, in table order.
func (t *Table) ForPeer(peer Addr) []*ServiceEntry {
	var out []*ServiceEntry
	for i := range t.entries {
		if t.entries[i].Peer == peer {
			out = append(out, &t.entries[i])
		}
	}
	return out
}

// ClearNewRequest clears the new_request flag on a specific entry, used by
// the strictness loop once a NEW-kind pass has consumed it.
func (t *Table) ClearNewRequest(id ServiceId, appID AppId, peer Addr) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.ID == id && e.AppID == appID && e.Peer == peer {
			e.NewRequest = false
			return
		}
	}
}
