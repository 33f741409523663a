// Package derive computes deterministic ledger addresses from seed values.
package derive

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLen is the byte length of every ledger address.
const AddressLen = 32

// Address identifies an account on the ledger.
type Address [AddressLen]byte

// String renders the address in base58.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns the raw address bytes.
func (a Address) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a base58 address string.
func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(raw) != AddressLen {
		return Address{}, fmt.Errorf("parse address %q: expected %d bytes, got %d", s, AddressLen, len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

const (
	vaultSeed      = "vault"
	vaultTokenSeed = "vault_token"
	positionSeed   = "position"

	derivationTag = "VitalFiDerivedAddress"
)

// ErrNoBump indicates no bump in [0,255] produced a usable address for the seeds.
var ErrNoBump = errors.New("derive: no valid bump for seeds")

// Vault derives the vault account address for (authority, vaultID) under program.
func Vault(program, authority Address, vaultID uint64) (Address, uint8, error) {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], vaultID)
	return findAddress(program, []byte(vaultSeed), authority[:], id[:])
}

// VaultToken derives the vault's asset holding account address.
func VaultToken(program, vault Address) (Address, uint8, error) {
	return findAddress(program, []byte(vaultTokenSeed), vault[:])
}

// Position derives a position account address for (vault, owner) under program.
func Position(program, vault, owner Address) (Address, uint8, error) {
	return findAddress(program, []byte(positionSeed), vault[:], owner[:])
}

// findAddress searches bumps from 255 downward and returns the first address
// whose digest passes the marker check. The mapping is one-way; callers never
// invert it. The bump is opaque but must accompany the address unchanged when
// it is later used to construct a write.
func findAddress(program Address, seeds ...[]byte) (Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(program[:])
		h.Write([]byte(derivationTag))

		var addr Address
		copy(addr[:], h.Sum(nil))
		if addr[AddressLen-1] != 0 {
			return addr, uint8(bump), nil
		}
	}
	return Address{}, 0, ErrNoBump
}
