package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/credit-markets/vitalfi-data/internal/alerting"
	"github.com/credit-markets/vitalfi-data/internal/amount"
	"github.com/credit-markets/vitalfi-data/internal/api"
	"github.com/credit-markets/vitalfi-data/internal/derive"
	"github.com/credit-markets/vitalfi-data/internal/layout"
	"github.com/credit-markets/vitalfi-data/internal/ledger"
	"github.com/credit-markets/vitalfi-data/internal/payout"
	"github.com/credit-markets/vitalfi-data/internal/scheduler"
)

// APISource lists vaults and positions from the aggregation API.
type APISource interface {
	ListVaults(ctx context.Context, authority string) ([]api.Vault, error)
	ListPositions(ctx context.Context, owner string) ([]api.Position, error)
}

// LedgerSource reads vault and position records straight off the ledger.
type LedgerSource interface {
	VaultsByAuthority(ctx context.Context, authority derive.Address) ([]ledger.KeyedVault, error)
	PositionsByOwner(ctx context.Context, owner derive.Address) ([]ledger.KeyedPosition, error)
}

// Options configure the service.
type Options struct {
	Authority     string
	AssetDecimals uint8
	AlertsOn      bool
}

// Service orchestrates data refresh, derived views, and lifecycle alerts.
type Service struct {
	scheduler *scheduler.Scheduler
	apiSource APISource
	ledger    LedgerSource
	notifier  alerting.Notifier
	logger    zerolog.Logger
	opts      Options

	lastStatus map[derive.Address]layout.Status
}

// New constructs the data service.
func New(sched *scheduler.Scheduler, apiSource APISource, ledgerSource LedgerSource, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:  sched,
		apiSource:  apiSource,
		ledger:     ledgerSource,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		opts:       opts,
		lastStatus: make(map[derive.Address]layout.Status),
	}
}

// Run begins the refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Refresh)
}

// Refresh pulls the current vault set and dispatches lifecycle alerts for
// status transitions observed since the previous tick.
func (s *Service) Refresh(ctx context.Context, at time.Time) error {
	vaults, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}

	s.logger.Info().Int("vaults", len(vaults)).Time("tick", at).Msg("refresh complete")

	for _, kv := range vaults {
		prev, known := s.lastStatus[kv.Address]
		s.lastStatus[kv.Address] = kv.Vault.Status
		if !known || prev == kv.Vault.Status {
			continue
		}
		s.alert(ctx, kv, prev, at)
	}
	return nil
}

// Snapshot returns the authority's vaults, preferring the aggregation API
// and falling back to direct ledger reads when the API is unavailable.
func (s *Service) Snapshot(ctx context.Context) ([]ledger.KeyedVault, error) {
	if s.apiSource != nil {
		dtos, err := s.apiSource.ListVaults(ctx, s.opts.Authority)
		if err == nil {
			out := make([]ledger.KeyedVault, 0, len(dtos))
			for _, dto := range dtos {
				rec, addr, convErr := dto.Record()
				if convErr != nil {
					return nil, fmt.Errorf("service: convert vault %s: %w", dto.Address, convErr)
				}
				out = append(out, ledger.KeyedVault{Address: addr, Vault: rec})
			}
			return out, nil
		}
		s.logger.Warn().Err(err).Msg("api unavailable, falling back to ledger")
	}

	if s.ledger == nil {
		return nil, fmt.Errorf("service: no vault source configured")
	}
	authority, err := derive.ParseAddress(s.opts.Authority)
	if err != nil {
		return nil, fmt.Errorf("service: authority: %w", err)
	}
	return s.ledger.VaultsByAuthority(ctx, authority)
}

func (s *Service) alert(ctx context.Context, kv ledger.KeyedVault, prev layout.Status, at time.Time) {
	if !s.opts.AlertsOn || s.notifier == nil {
		return
	}
	if kv.Vault.Status != layout.StatusMatured && kv.Vault.Status != layout.StatusCanceled {
		return
	}

	deposited, err := amount.DecimalFromBaseUnits(fmt.Sprintf("%d", kv.Vault.TotalDeposited), s.opts.AssetDecimals)
	if err != nil {
		deposited = decimal.Zero
	}

	event := alerting.Event{
		Vault:          kv.Address.String(),
		VaultID:        kv.Vault.VaultID,
		From:           prev,
		To:             kv.Vault.Status,
		TotalDeposited: deposited,
		At:             at,
	}
	if kv.Vault.PayoutSet {
		event.PayoutNumerator = fmt.Sprintf("%d", kv.Vault.PayoutNumerator)
		event.PayoutDenominator = fmt.Sprintf("%d", kv.Vault.PayoutDenominator)
	}

	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("vault", event.Vault).Msg("failed to dispatch alert")
	}
}

// VaultView augments a vault record with derived presentation fields.
type VaultView struct {
	Address            derive.Address
	Vault              layout.Vault
	CapacityRemaining  uint64
	FundingProgressPct float64
	DaysToMaturity     int
}

// PositionView augments a position with payout-derived balances.
type PositionView struct {
	Address     derive.Address
	Position    layout.Position
	VaultStatus layout.Status
	Entitled    string
	Claimable   string
}

// Vaults returns the current vault set with derived fields attached.
func (s *Service) Vaults(ctx context.Context) ([]VaultView, error) {
	vaults, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	views := make([]VaultView, 0, len(vaults))
	for _, kv := range vaults {
		views = append(views, VaultView{
			Address:            kv.Address,
			Vault:              kv.Vault,
			CapacityRemaining:  capacityRemaining(kv.Vault),
			FundingProgressPct: fundingProgress(kv.Vault),
			DaysToMaturity:     daysToMaturity(kv.Vault, now),
		})
	}
	return views, nil
}

// Positions returns the owner's positions with entitlement balances. Vault
// records are resolved through the same snapshot so claimable amounts track
// the vault's current lifecycle state.
func (s *Service) Positions(ctx context.Context, owner string) ([]PositionView, error) {
	positions, err := s.ownerPositions(ctx, owner)
	if err != nil {
		return nil, err
	}

	vaults, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	byAddr := make(map[derive.Address]layout.Vault, len(vaults))
	for _, kv := range vaults {
		byAddr[kv.Address] = kv.Vault
	}

	views := make([]PositionView, 0, len(positions))
	for _, kp := range positions {
		view := PositionView{Address: kp.Address, Position: kp.Position}
		vault, ok := byAddr[kp.Position.Vault]
		if !ok {
			views = append(views, view)
			continue
		}
		view.VaultStatus = vault.Status

		entitled, err := payout.ForPosition(vault, kp.Position)
		if err != nil {
			return nil, fmt.Errorf("service: position %s: %w", kp.Address, err)
		}
		claimable, err := payout.Remaining(entitled, fmt.Sprintf("%d", kp.Position.Claimed))
		if err != nil {
			return nil, fmt.Errorf("service: position %s: %w", kp.Address, err)
		}
		view.Entitled = entitled
		view.Claimable = claimable
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) ownerPositions(ctx context.Context, owner string) ([]ledger.KeyedPosition, error) {
	if s.apiSource != nil {
		dtos, err := s.apiSource.ListPositions(ctx, owner)
		if err == nil {
			out := make([]ledger.KeyedPosition, 0, len(dtos))
			for _, dto := range dtos {
				rec, addr, convErr := dto.Record()
				if convErr != nil {
					return nil, fmt.Errorf("service: convert position %s: %w", dto.Address, convErr)
				}
				out = append(out, ledger.KeyedPosition{Address: addr, Position: rec})
			}
			return out, nil
		}
		s.logger.Warn().Err(err).Msg("api unavailable, falling back to ledger")
	}

	if s.ledger == nil {
		return nil, fmt.Errorf("service: no position source configured")
	}
	addr, err := derive.ParseAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("service: owner: %w", err)
	}
	return s.ledger.PositionsByOwner(ctx, addr)
}

func capacityRemaining(v layout.Vault) uint64 {
	if v.TotalDeposited >= v.Capacity {
		return 0
	}
	return v.Capacity - v.TotalDeposited
}

func fundingProgress(v layout.Vault) float64 {
	if v.Capacity == 0 {
		return 0
	}
	pct := decimal.NewFromUint64(v.TotalDeposited).
		Div(decimal.NewFromUint64(v.Capacity)).
		Mul(decimal.NewFromInt(100))
	f, _ := pct.Float64()
	return f
}

func daysToMaturity(v layout.Vault, now time.Time) int {
	maturity := time.Unix(v.MaturityTS, 0).UTC()
	if !maturity.After(now) {
		return 0
	}
	return int(maturity.Sub(now).Hours() / 24)
}
