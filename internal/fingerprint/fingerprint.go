// Package fingerprint derives the one-way keys that identify an original
// value inside the mapping store.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

// Size is the length of a Key in bytes.
const Size = sha256.Size

// Key is the fixed-size fingerprint of (original value, entity type).
type Key [Size]byte

// String returns the lowercase hex form used for persistence.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Parse decodes a hex fingerprint produced by Key.String.
func Parse(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("invalid fingerprint: %w", err)
	}
	if len(b) != Size {
		return k, fmt.Errorf("invalid fingerprint length: %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Seed derives a non-zero 64-bit synthesis seed from the key, a store-wide
// salt and the retry attempt. Different attempts give unrelated seeds.
func (k Key) Seed(salt string, attempt int) uint64 {
	h := sha256.New()
	h.Write(k[:])
	h.Write([]byte(salt))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(attempt))
	h.Write(buf[:])
	seed := binary.BigEndian.Uint64(h.Sum(nil)[:8])
	if seed == 0 {
		seed = 1
	}
	return seed
}

// Fingerprinter computes keys. With a secret it uses HMAC-SHA256 so that
// low-entropy values cannot be recovered by hashing candidate inputs.
type Fingerprinter struct {
	secret []byte
}

// New returns a Fingerprinter. An empty secret selects plain SHA-256.
func New(secret string) *Fingerprinter {
	f := &Fingerprinter{}
	if secret != "" {
		f.secret = []byte(secret)
	}
	return f
}

// Of fingerprints original as a value of entityType. The entity type comes
// first and is NUL-terminated; entity type names never contain NUL.
func (f *Fingerprinter) Of(original, entityType string) Key {
	var h hash.Hash
	if f != nil && len(f.secret) > 0 {
		h = hmac.New(sha256.New, f.secret)
	} else {
		h = sha256.New()
	}
	h.Write([]byte(entityType))
	h.Write([]byte{0})
	h.Write([]byte(original))

	var k Key
	copy(k[:], h.Sum(nil))
	return k
}
