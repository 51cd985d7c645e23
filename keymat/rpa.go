package keymat

import (
	"crypto/aes"
	"crypto/rand"
)

// DeriveRPA computes a resolvable private address from an identity
// resolving key using the ah() function of BT Core Vol 3 Part H 2.2.2:
// a 24-bit random prand (top two bits set to 01, per 1.3.2.2) encrypted
// under AES-128 with the IRK, truncated to its low 24 bits, forming
// hash || prand.
func DeriveRPA(irk [16]byte) ([6]byte, error) {
	var prand [3]byte
	if _, err := rand.Read(prand[:]); err != nil {
		return [6]byte{}, err
	}
	prand[0] = (prand[0] &^ 0xC0) | 0x40

	block, err := aes.NewCipher(irk[:])
	if err != nil {
		return [6]byte{}, err
	}
	var in, out [16]byte
	copy(in[13:], prand[:])
	block.Encrypt(out[:], in[:])

	var addr [6]byte
	copy(addr[:3], out[13:16])
	copy(addr[3:], prand[:])
	return addr, nil
}
