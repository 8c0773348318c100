package crypto

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash is a 32-byte blake2b digest, the protocol's only hash flavour.
type Hash [HashSize]byte

// HashData hashes the input data with blake2b-256
func HashData(data []byte) Hash {
	return blake2b.Sum256(data)
}

// Compare returns -1, 0 or 1 comparing the two hashes as big-endian
// unsigned integers. Lottery-ticket ranking, canonical Merkle pair ordering
// and the fork-choice hash tiebreak all need one total numeric order over
// hashes.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// IsZero reports whether the hash is the all-zero value
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the 0x-prefixed hex encoding of the hash
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements fmt.Stringer
func (h Hash) String() string {
	return h.Hex()
}

// HashFromHex parses a hex string, with or without 0x prefix, into a Hash
func HashFromHex(s string) (Hash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	if len(raw) != HashSize {
		return Hash{}, ErrBadHashLength
	}

	var h Hash
	copy(h[:], raw)
	return h, nil
}
