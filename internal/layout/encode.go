package layout

import "encoding/binary"

// EncodeVault serialises a vault record into its on-ledger layout. Used to
// build fixtures and to round-trip the offset tables in tests.
func EncodeVault(v Vault) []byte {
	buf := make([]byte, VaultSize)
	copy(buf, VaultDiscriminator)
	copy(buf[VaultAuthorityOffset:], v.Authority[:])
	putU64(buf, VaultIDOffset, v.VaultID)
	copy(buf[VaultAssetOffset:], v.Asset[:])
	buf[VaultStatusOffset] = byte(v.Status)
	putU64(buf, VaultCapacityOffset, v.Capacity)
	putU64(buf, VaultTotalDepositedOffset, v.TotalDeposited)
	putU64(buf, VaultTotalClaimedOffset, v.TotalClaimed)
	binary.LittleEndian.PutUint16(buf[VaultTargetYieldOffset:], v.TargetYieldBps)
	putU64(buf, VaultFundingCloseOffset, uint64(v.FundingCloseTS))
	putU64(buf, VaultMaturityOffset, uint64(v.MaturityTS))
	putU64(buf, VaultMinDepositOffset, v.MinDeposit)
	if v.PayoutSet {
		buf[VaultPayoutSetOffset] = 1
	}
	putU64(buf, VaultPayoutNumeratorOffset, v.PayoutNumerator)
	putU64(buf, VaultPayoutDenominatorOffset, v.PayoutDenominator)
	return buf
}

// EncodePosition serialises a position record into its on-ledger layout.
func EncodePosition(p Position) []byte {
	buf := make([]byte, PositionSize)
	copy(buf, PositionDiscriminator)
	copy(buf[PositionOwnerOffset:], p.Owner[:])
	copy(buf[PositionVaultOffset:], p.Vault[:])
	putU64(buf, PositionDepositedOffset, p.Deposited)
	putU64(buf, PositionClaimedOffset, p.Claimed)
	return buf
}

func putU64(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:], v)
}
