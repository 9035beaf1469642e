package keys

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	MinPepperLength = 16
	MaxPepperLength = blake2b.Size // blake2b accepts keys up to 64 bytes
)

// Digester turns a plaintext secret into the stored lookup digest: keyed
// BLAKE2b-256, hex encoded. The same secret always yields the same digest.
type Digester struct {
	pepper []byte
}

func NewDigester(pepper []byte) (*Digester, error) {
	if len(pepper) < MinPepperLength || len(pepper) > MaxPepperLength {
		return nil, fmt.Errorf("pepper must be %d-%d bytes, got %d", MinPepperLength, MaxPepperLength, len(pepper))
	}
	p := make([]byte, len(pepper))
	copy(p, pepper)
	return &Digester{pepper: p}, nil
}

func (d *Digester) Digest(secret string) string {
	h, err := blake2b.New256(d.pepper)
	if err != nil {
		// Unreachable: the pepper length is checked in NewDigester.
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}
