package advdata

import (
	"bytes"
	"strings"
	"testing"
)

func TestAppend_RejectsOversizeElement(t *testing.T) {
	p := &Payload{}
	data := bytes.Repeat([]byte{0x01}, maxElementLength) // +2 for len/type exceeds cap
	if err := p.Append(TypeManufacturer, data); err == nil {
		t.Fatalf("expected Append to reject an element over the per-element cap")
	}
}

func TestAppend_AllowOversizeElements(t *testing.T) {
	p := &Payload{}
	p.AllowOversizeElements(true)
	data := bytes.Repeat([]byte{0x01}, maxElementLength)
	if err := p.Append(TypeManufacturer, data); err != nil {
		t.Fatalf("Append with AllowOversizeElements(true): %v", err)
	}
}

func TestValidate_LegacyCapOnlyWhenEnforced(t *testing.T) {
	p := &Payload{}
	if err := p.Append(TypeCompleteName, bytes.Repeat([]byte{0x41}, 40)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := p.Validate(1650, true, false); err != nil {
		t.Fatalf("Validate with enforceLegacyCap=false should pass the legacy cap: %v", err)
	}

	err := p.Validate(1650, true, true)
	if err == nil || !strings.Contains(err.Error(), "legacy") {
		t.Fatalf("Validate with enforceLegacyCap=true should reject the 31-byte legacy cap, got %v", err)
	}
}

func TestValidate_ControllerMaxAlwaysEnforced(t *testing.T) {
	p := &Payload{}
	if err := p.Append(TypeManufacturer, bytes.Repeat([]byte{0x01}, 100)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := p.Validate(50, false, false); err == nil {
		t.Fatalf("expected Validate to reject a payload over the controller max")
	}
	if err := p.Validate(200, false, false); err != nil {
		t.Fatalf("Validate under controller max: %v", err)
	}
}

func TestAppendFlags_NoOpIfPresent(t *testing.T) {
	p := &Payload{}
	p.AppendFlags(0x02)
	p.AppendFlags(0x06)
	if len(p.Elements) != 1 {
		t.Fatalf("expected exactly one FLAGS element, got %d", len(p.Elements))
	}
	if p.Elements[0].Data[0] != 0x02 {
		t.Fatalf("expected the first AppendFlags call to win, got %#x", p.Elements[0].Data[0])
	}
}

func TestMarshalLen_RoundTrip(t *testing.T) {
	p := &Payload{}
	p.Append(TypeFlags, []byte{0x06})
	p.Append(TypeCompleteName, []byte("peer"))

	raw := p.Marshal()
	if len(raw) != p.Len() {
		t.Fatalf("Marshal length %d != Len() %d", len(raw), p.Len())
	}

	got, err := unmarshalPayload(raw)
	if err != nil {
		t.Fatalf("unmarshalPayload: %v", err)
	}
	if len(got.Elements) != len(p.Elements) {
		t.Fatalf("got %d elements, want %d", len(got.Elements), len(p.Elements))
	}
	for i, e := range got.Elements {
		if e.Type != p.Elements[i].Type || !bytes.Equal(e.Data, p.Elements[i].Data) {
			t.Fatalf("element %d mismatch: got %+v want %+v", i, e, p.Elements[i])
		}
	}
}

func TestPatchTxPower(t *testing.T) {
	p := &Payload{}
	p.Append(TypeTxPowerLevel, []byte{0x00})
	p.PatchTxPower(-12)
	if int8(p.Elements[0].Data[0]) != -12 {
		t.Fatalf("patched tx power = %d, want -12", int8(p.Elements[0].Data[0]))
	}
}
