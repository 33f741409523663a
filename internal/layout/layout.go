// Package layout decodes the fixed-offset binary account records the VitalFi
// program stores on the ledger. Every record is a fixed-size buffer: an 8-byte
// discriminator followed by fields at hard-coded offsets, integers
// little-endian, addresses 32 bytes, enum tags a single byte. The offset
// tables below are pinned by tests because layout drift against the on-ledger
// schema decodes cleanly and returns wrong values.
package layout

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/credit-markets/vitalfi-data/internal/derive"
)

// Status is the vault lifecycle tag.
type Status uint8

const (
	StatusFunding Status = iota
	StatusActive
	StatusMatured
	StatusCanceled
)

// String names the status for logs and listings.
func (s Status) String() string {
	switch s {
	case StatusFunding:
		return "funding"
	case StatusActive:
		return "active"
	case StatusMatured:
		return "matured"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus maps a status name back to its tag.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "funding":
		return StatusFunding, nil
	case "active":
		return StatusActive, nil
	case "matured":
		return StatusMatured, nil
	case "canceled":
		return StatusCanceled, nil
	}
	return 0, fmt.Errorf("layout: unknown status %q", s)
}

// Vault is the decoded on-ledger vault record.
type Vault struct {
	Authority         derive.Address
	VaultID           uint64
	Asset             derive.Address
	Status            Status
	Capacity          uint64
	TotalDeposited    uint64
	TotalClaimed      uint64
	TargetYieldBps    uint16
	FundingCloseTS    int64
	MaturityTS        int64
	MinDeposit        uint64
	PayoutSet         bool
	PayoutNumerator   uint64
	PayoutDenominator uint64
}

// Position is the decoded on-ledger position record.
type Position struct {
	Owner     derive.Address
	Vault     derive.Address
	Deposited uint64
	Claimed   uint64
}

// Field offsets and record sizes. Discriminator first, then fields in
// declaration order.
const (
	DiscriminatorLen = 8

	VaultAuthorityOffset         = 8
	VaultIDOffset                = 40
	VaultAssetOffset             = 48
	VaultStatusOffset            = 80
	VaultCapacityOffset          = 81
	VaultTotalDepositedOffset    = 89
	VaultTotalClaimedOffset      = 97
	VaultTargetYieldOffset       = 105
	VaultFundingCloseOffset      = 107
	VaultMaturityOffset          = 115
	VaultMinDepositOffset        = 123
	VaultPayoutSetOffset         = 131
	VaultPayoutNumeratorOffset   = 132
	VaultPayoutDenominatorOffset = 140
	VaultSize                    = 148

	PositionOwnerOffset     = 8
	PositionVaultOffset     = 40
	PositionDepositedOffset = 72
	PositionClaimedOffset   = 80
	PositionSize            = 88
)

// Record discriminators, first 8 bytes of sha256("account:<name>").
var (
	VaultDiscriminator    = discriminator("vault")
	PositionDiscriminator = discriminator("position")
)

func discriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:DiscriminatorLen]
}

// DecodeError reports a buffer that does not match the record schema. It is
// always a bug or layout drift, never an expected runtime condition for
// well-formed records.
type DecodeError struct {
	Record   string
	Reason   string
	Expected int
	Actual   int
}

func (e *DecodeError) Error() string {
	if e.Expected != e.Actual {
		return fmt.Sprintf("layout: decode %s: %s: expected %d, got %d", e.Record, e.Reason, e.Expected, e.Actual)
	}
	return fmt.Sprintf("layout: decode %s: %s", e.Record, e.Reason)
}

// DecodeVault decodes a raw vault account buffer.
func DecodeVault(buf []byte) (Vault, error) {
	if len(buf) != VaultSize {
		return Vault{}, &DecodeError{Record: "vault", Reason: "buffer length", Expected: VaultSize, Actual: len(buf)}
	}
	if !bytes.Equal(buf[:DiscriminatorLen], VaultDiscriminator) {
		return Vault{}, &DecodeError{Record: "vault", Reason: "discriminator mismatch"}
	}

	v := Vault{
		VaultID:           readU64(buf, VaultIDOffset),
		Status:            Status(buf[VaultStatusOffset]),
		Capacity:          readU64(buf, VaultCapacityOffset),
		TotalDeposited:    readU64(buf, VaultTotalDepositedOffset),
		TotalClaimed:      readU64(buf, VaultTotalClaimedOffset),
		TargetYieldBps:    readU16(buf, VaultTargetYieldOffset),
		FundingCloseTS:    readI64(buf, VaultFundingCloseOffset),
		MaturityTS:        readI64(buf, VaultMaturityOffset),
		MinDeposit:        readU64(buf, VaultMinDepositOffset),
		PayoutSet:         buf[VaultPayoutSetOffset] != 0,
		PayoutNumerator:   readU64(buf, VaultPayoutNumeratorOffset),
		PayoutDenominator: readU64(buf, VaultPayoutDenominatorOffset),
	}
	copy(v.Authority[:], buf[VaultAuthorityOffset:])
	copy(v.Asset[:], buf[VaultAssetOffset:])

	if v.Status > StatusCanceled {
		return Vault{}, &DecodeError{Record: "vault", Reason: fmt.Sprintf("status tag %d out of range", uint8(v.Status))}
	}
	return v, nil
}

// DecodePosition decodes a raw position account buffer.
func DecodePosition(buf []byte) (Position, error) {
	if len(buf) != PositionSize {
		return Position{}, &DecodeError{Record: "position", Reason: "buffer length", Expected: PositionSize, Actual: len(buf)}
	}
	if !bytes.Equal(buf[:DiscriminatorLen], PositionDiscriminator) {
		return Position{}, &DecodeError{Record: "position", Reason: "discriminator mismatch"}
	}

	p := Position{
		Deposited: readU64(buf, PositionDepositedOffset),
		Claimed:   readU64(buf, PositionClaimedOffset),
	}
	copy(p.Owner[:], buf[PositionOwnerOffset:])
	copy(p.Vault[:], buf[PositionVaultOffset:])
	return p, nil
}

func readU16(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off:])
}

func readU64(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off:])
}

func readI64(buf []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(buf[off:]))
}
