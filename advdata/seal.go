package advdata

import (
	"crypto/rand"
	"fmt"
)

// Seal encrypts plaintext GAP elements for encrypted advertising, per
// spec 4.4: nonce := reverse(randomizer) || reverse(iv) (5 + 8 = 13 bytes),
// ad := 0xEA, AES-128-CCM under key (16 bytes) over the serialized
// plaintext, producing ciphertext of equal length plus a 4-byte MIC. The
// returned Element carries type ENCRYPTED_ADVERTISING_DATA with body
// reverse(randomizer) || ciphertext || MIC.
//
// There is no third-party CCM implementation anywhere in the retrieval
// corpus (only raw AES block/key-schedule helpers, e.g. gherlein-gocat's
// yardstick package), so this builds CCM directly over crypto/aes per
// NIST SP 800-38C, the justified standard-library exception recorded in
// DESIGN.md.
func Seal(plaintext *Payload, key [16]byte, iv [16]byte) (Element, []byte, error) {
	var randomizer [5]byte
	if _, err := rand.Read(randomizer[:]); err != nil {
		return Element{}, nil, err
	}
	el, err := SealWithRandomizer(plaintext, key, iv, randomizer)
	return el, randomizer[:], err
}

// SealWithRandomizer is Seal with an explicit randomizer, used for re-seal
// on rotation/pause-resume where the caller manages freshness itself, and
// by tests for determinism.
func SealWithRandomizer(plaintext *Payload, key [16]byte, iv [16]byte, randomizer [5]byte) (Element, error) {
	nonce := ccmNonce(randomizer, iv)
	aead, err := newCCM(key)
	if err != nil {
		return Element{}, err
	}

	pt := plaintext.Marshal()
	sealed, err := aead.seal(nonce, pt, []byte{0xEA})
	if err != nil {
		return Element{}, err
	}

	body := make([]byte, 0, 5+len(sealed))
	body = append(body, reverse(randomizer[:])...)
	body = append(body, sealed...)
	return Element{Type: TypeEncryptedData, Data: body}, nil
}

// Unseal is the inverse of Seal: given the ENCRYPTED_ADVERTISING_DATA
// element body and the key/iv, it recovers the plaintext element stream.
// Supplemented per SPEC_FULL 6 for the seal/unseal round-trip property and
// for validating a controller's periodic-sync echo of the host's own
// encrypted payload.
func Unseal(body []byte, key [16]byte, iv [16]byte) (*Payload, error) {
	if len(body) < 5+4 {
		return nil, fmt.Errorf("advdata: encrypted element too short (%d bytes)", len(body))
	}
	var randomizer [5]byte
	copy(randomizer[:], reverse(body[:5]))
	ciphertext := body[5:]

	nonce := ccmNonce(randomizer, iv)
	aead, err := newCCM(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.open(nonce, ciphertext, []byte{0xEA})
	if err != nil {
		return nil, fmt.Errorf("advdata: unseal failed: %w", err)
	}
	return unmarshalPayload(pt)
}

func ccmNonce(randomizer [5]byte, iv [16]byte) []byte {
	nonce := make([]byte, 0, 13)
	nonce = append(nonce, reverse(randomizer[:])...)
	nonce = append(nonce, reverse(iv[8:16])...)
	return nonce
}

func newCCM(key [16]byte) (*ccm, error) {
	block, err := aesBlock(key[:])
	if err != nil {
		return nil, err
	}
	return newCCMCipher(block, 4)
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func unmarshalPayload(raw []byte) (*Payload, error) {
	p := &Payload{}
	for len(raw) > 0 {
		n := int(raw[0])
		if n == 0 || n+1 > len(raw) {
			return nil, fmt.Errorf("advdata: malformed element length %d", n)
		}
		t := Type(raw[1])
		data := append([]byte(nil), raw[2:1+n]...)
		p.Elements = append(p.Elements, Element{Type: t, Data: data})
		raw = raw[1+n:]
	}
	return p, nil
}
