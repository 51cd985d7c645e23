package advdata

// Operation is the HCI fragmentation operation for LE_Set_Extended_*_Data,
// per spec 4.4.
type Operation uint8

const (
	OpComplete     Operation = 0x03
	OpFirst        Operation = 0x01
	OpIntermediate Operation = 0x00
	OpLast         Operation = 0x02
)

// kLeMaximumFragmentLength is the per-fragment cap named in spec 4.4.
const kLeMaximumFragmentLength = 252

// Fragment is one outgoing HCI write: an operation and its data slice.
type Fragment struct {
	Op   Operation
	Data []byte
}

// Fragmentize splits a serialized payload into HCI write operations. Short
// payloads (≤ kLeMaximumFragmentLength) produce a single COMPLETE fragment;
// longer payloads produce FIRST, zero-or-more INTERMEDIATE, then LAST.
// Completion callbacks must only fire at COMPLETE or LAST (spec 4.4);
// callers drive that by inspecting the returned Fragment.Op of the last
// write's response.
func Fragmentize(raw []byte) []Fragment {
	if len(raw) <= kLeMaximumFragmentLength {
		return []Fragment{{Op: OpComplete, Data: raw}}
	}

	var frags []Fragment
	for off := 0; off < len(raw); off += kLeMaximumFragmentLength {
		end := off + kLeMaximumFragmentLength
		if end > len(raw) {
			end = len(raw)
		}
		var op Operation
		switch {
		case off == 0:
			op = OpFirst
		case end == len(raw):
			op = OpLast
		default:
			op = OpIntermediate
		}
		frags = append(frags, Fragment{Op: op, Data: raw[off:end]})
	}
	return frags
}

// IsTerminal reports whether op is a fragment that should surface success
// to the caller (COMPLETE or LAST).
func (op Operation) IsTerminal() bool {
	return op == OpComplete || op == OpLast
}
