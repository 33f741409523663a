package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/credit-markets/vitalfi-data/internal/derive"
	"github.com/credit-markets/vitalfi-data/internal/layout"
)

// Reader issues batched, filtered reads against the ledger endpoint and
// decodes the results. A decode or connectivity failure fails the whole
// batch: a partial list with silently missing entries is worse than an
// explicit error.
type Reader struct {
	ep      Endpoint
	program derive.Address
	logger  zerolog.Logger
}

// NewReader wires an endpoint and the program address into a Reader.
func NewReader(ep Endpoint, program derive.Address, logger zerolog.Logger) *Reader {
	return &Reader{
		ep:      ep,
		program: program,
		logger:  logger.With().Str("component", "ledger_reader").Logger(),
	}
}

// KeyedVault pairs a decoded vault with its account address.
type KeyedVault struct {
	Address derive.Address
	Vault   layout.Vault
}

// KeyedPosition pairs a decoded position with its account address.
type KeyedPosition struct {
	Address  derive.Address
	Position layout.Position
}

// VaultsByAuthority returns every vault whose authority field equals
// authority, in one filtered call.
func (r *Reader) VaultsByAuthority(ctx context.Context, authority derive.Address) ([]KeyedVault, error) {
	filters := []Filter{
		{Offset: 0, Bytes: layout.VaultDiscriminator},
		{Offset: layout.VaultAuthorityOffset, Bytes: authority.Bytes()},
	}
	return r.filteredVaults(ctx, filters)
}

// PositionsByOwner returns every position owned by owner.
func (r *Reader) PositionsByOwner(ctx context.Context, owner derive.Address) ([]KeyedPosition, error) {
	filters := []Filter{
		{Offset: 0, Bytes: layout.PositionDiscriminator},
		{Offset: layout.PositionOwnerOffset, Bytes: owner.Bytes()},
	}
	return r.filteredPositions(ctx, filters)
}

// PositionsByVault returns every position parented to vault.
func (r *Reader) PositionsByVault(ctx context.Context, vault derive.Address) ([]KeyedPosition, error) {
	filters := []Filter{
		{Offset: 0, Bytes: layout.PositionDiscriminator},
		{Offset: layout.PositionVaultOffset, Bytes: vault.Bytes()},
	}
	return r.filteredPositions(ctx, filters)
}

// VaultsAt resolves known vault addresses in one call, preserving input
// order. Absent accounts come back nil; absence is a normal outcome, not a
// fault.
func (r *Reader) VaultsAt(ctx context.Context, addrs []derive.Address) ([]*layout.Vault, error) {
	buffers, err := r.ep.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return nil, err
	}

	vaults := make([]*layout.Vault, len(buffers))
	for i, buf := range buffers {
		if buf == nil {
			continue
		}
		v, err := layout.DecodeVault(buf)
		if err != nil {
			return nil, fmt.Errorf("vault at %s: %w", addrs[i], err)
		}
		vaults[i] = &v
	}
	return vaults, nil
}

// VaultByID derives the vault address for (authority, vaultID) and fetches
// it. Returns nil when the vault does not exist.
func (r *Reader) VaultByID(ctx context.Context, authority derive.Address, vaultID uint64) (*layout.Vault, derive.Address, error) {
	addr, _, err := derive.Vault(r.program, authority, vaultID)
	if err != nil {
		return nil, derive.Address{}, err
	}

	buf, err := r.ep.GetAccount(ctx, addr)
	if err != nil {
		return nil, addr, err
	}
	if buf == nil {
		return nil, addr, nil
	}

	v, err := layout.DecodeVault(buf)
	if err != nil {
		return nil, addr, fmt.Errorf("vault at %s: %w", addr, err)
	}
	return &v, addr, nil
}

// PositionFor derives the position address for (vault, owner) and fetches
// it. Returns nil when no position exists.
func (r *Reader) PositionFor(ctx context.Context, vault, owner derive.Address) (*layout.Position, derive.Address, error) {
	addr, _, err := derive.Position(r.program, vault, owner)
	if err != nil {
		return nil, derive.Address{}, err
	}

	buf, err := r.ep.GetAccount(ctx, addr)
	if err != nil {
		return nil, addr, err
	}
	if buf == nil {
		return nil, addr, nil
	}

	p, err := layout.DecodePosition(buf)
	if err != nil {
		return nil, addr, fmt.Errorf("position at %s: %w", addr, err)
	}
	return &p, addr, nil
}

func (r *Reader) filteredVaults(ctx context.Context, filters []Filter) ([]KeyedVault, error) {
	accounts, err := r.ep.GetFilteredAccounts(ctx, r.program, filters)
	if err != nil {
		return nil, err
	}

	vaults := make([]KeyedVault, 0, len(accounts))
	for _, acct := range accounts {
		v, err := layout.DecodeVault(acct.Data)
		if err != nil {
			return nil, fmt.Errorf("vault at %s: %w", acct.Address, err)
		}
		vaults = append(vaults, KeyedVault{Address: acct.Address, Vault: v})
	}
	r.logger.Debug().Int("count", len(vaults)).Msg("filtered vault read")
	return vaults, nil
}

func (r *Reader) filteredPositions(ctx context.Context, filters []Filter) ([]KeyedPosition, error) {
	accounts, err := r.ep.GetFilteredAccounts(ctx, r.program, filters)
	if err != nil {
		return nil, err
	}

	positions := make([]KeyedPosition, 0, len(accounts))
	for _, acct := range accounts {
		p, err := layout.DecodePosition(acct.Data)
		if err != nil {
			return nil, fmt.Errorf("position at %s: %w", acct.Address, err)
		}
		positions = append(positions, KeyedPosition{Address: acct.Address, Position: p})
	}
	r.logger.Debug().Int("count", len(positions)).Msg("filtered position read")
	return positions, nil
}
