// Package api reads pre-decoded vault, position, and activity records from
// the backend aggregation service. It is the preferred read path; every
// request goes through the conditional cache. Amounts travel as
// decimal-integer strings, never JSON numbers, so nothing loses precision in
// transit.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/credit-markets/vitalfi-data/internal/cache"
	"github.com/credit-markets/vitalfi-data/internal/derive"
	"github.com/credit-markets/vitalfi-data/internal/layout"
)

const (
	vaultsEndpoint    = "/vaults"
	positionsEndpoint = "/positions"
	activityEndpoint  = "/activity"

	defaultPageLimit = 100
)

// Vault is the aggregation service's vault representation.
type Vault struct {
	Address           string `json:"address"`
	Authority         string `json:"authority"`
	VaultID           uint64 `json:"vaultId"`
	Asset             string `json:"asset"`
	Status            string `json:"status"`
	Capacity          string `json:"capacity"`
	TotalDeposited    string `json:"totalDeposited"`
	TotalClaimed      string `json:"totalClaimed"`
	TargetYieldBps    uint16 `json:"targetYieldBps"`
	FundingCloseTS    int64  `json:"fundingCloseTs"`
	MaturityTS        int64  `json:"maturityTs"`
	MinDeposit        string `json:"minDeposit"`
	PayoutNumerator   string `json:"payoutNumerator,omitempty"`
	PayoutDenominator string `json:"payoutDenominator,omitempty"`
}

// Position is the aggregation service's position representation.
type Position struct {
	Address   string `json:"address"`
	Owner     string `json:"owner"`
	Vault     string `json:"vault"`
	Deposited string `json:"deposited"`
	Claimed   string `json:"claimed"`
}

// Activity is one vault lifecycle event (deposit, claim, status change).
type Activity struct {
	Vault  string `json:"vault"`
	Kind   string `json:"kind"`
	Actor  string `json:"actor"`
	Amount string `json:"amount"`
	TS     int64  `json:"ts"`
}

type vaultPage struct {
	Items      []Vault `json:"items"`
	NextCursor uint64  `json:"nextCursor"`
}

type positionPage struct {
	Items      []Position `json:"items"`
	NextCursor uint64     `json:"nextCursor"`
}

type activityPage struct {
	Items      []Activity `json:"items"`
	NextCursor uint64     `json:"nextCursor"`
}

// Client pages through the aggregation API via the conditional cache.
type Client struct {
	cache  *cache.Client
	logger zerolog.Logger
	limit  int
}

// NewClient builds an aggregation API client. limit caps page size; zero
// means the default.
func NewClient(cacheClient *cache.Client, limit int, logger zerolog.Logger) *Client {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	return &Client{
		cache:  cacheClient,
		logger: logger.With().Str("component", "api_client").Logger(),
		limit:  limit,
	}
}

// ListVaults returns every vault run by authority, following the cursor to
// the end.
func (c *Client) ListVaults(ctx context.Context, authority string) ([]Vault, error) {
	var out []Vault
	cursor := uint64(0)
	for {
		params := c.pageParams(cursor)
		params["authority"] = authority

		raw, err := c.cache.Get(ctx, vaultsEndpoint, params)
		if err != nil {
			return nil, err
		}

		var page vaultPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("api: decode vault page: %w", err)
		}
		out = append(out, page.Items...)

		if page.NextCursor == 0 {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// ListPositions returns every position held by owner.
func (c *Client) ListPositions(ctx context.Context, owner string) ([]Position, error) {
	var out []Position
	cursor := uint64(0)
	for {
		params := c.pageParams(cursor)
		params["owner"] = owner

		raw, err := c.cache.Get(ctx, positionsEndpoint, params)
		if err != nil {
			return nil, err
		}

		var page positionPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("api: decode position page: %w", err)
		}
		out = append(out, page.Items...)

		if page.NextCursor == 0 {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// VaultActivity returns the full activity feed for a vault, oldest first.
func (c *Client) VaultActivity(ctx context.Context, vault string) ([]Activity, error) {
	var out []Activity
	cursor := uint64(0)
	for {
		params := c.pageParams(cursor)
		params["vault"] = vault

		raw, err := c.cache.Get(ctx, activityEndpoint, params)
		if err != nil {
			return nil, err
		}

		var page activityPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("api: decode activity page: %w", err)
		}
		out = append(out, page.Items...)

		if page.NextCursor == 0 {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// InvalidatePositions drops every cached position page after a
// locally-initiated write (deposit or claim) made them stale.
func (c *Client) InvalidatePositions(ctx context.Context) error {
	return c.cache.InvalidateEndpoint(ctx, positionsEndpoint)
}

// InvalidateVaults drops every cached vault page.
func (c *Client) InvalidateVaults(ctx context.Context) error {
	return c.cache.InvalidateEndpoint(ctx, vaultsEndpoint)
}

func (c *Client) pageParams(cursor uint64) map[string]string {
	params := map[string]string{
		"limit": strconv.Itoa(c.limit),
	}
	if cursor > 0 {
		params["cursor"] = strconv.FormatUint(cursor, 10)
	}
	return params
}

// Record converts the DTO to the on-ledger record type shared with the
// direct path. Conversion is strict: a malformed amount fails rather than
// substituting a default into something claimable.
func (v Vault) Record() (layout.Vault, derive.Address, error) {
	addr, err := derive.ParseAddress(v.Address)
	if err != nil {
		return layout.Vault{}, derive.Address{}, fmt.Errorf("api: vault: %w", err)
	}
	authority, err := derive.ParseAddress(v.Authority)
	if err != nil {
		return layout.Vault{}, derive.Address{}, fmt.Errorf("api: vault %s: %w", v.Address, err)
	}
	asset, err := derive.ParseAddress(v.Asset)
	if err != nil {
		return layout.Vault{}, derive.Address{}, fmt.Errorf("api: vault %s: %w", v.Address, err)
	}
	status, err := layout.ParseStatus(v.Status)
	if err != nil {
		return layout.Vault{}, derive.Address{}, fmt.Errorf("api: vault %s: %w", v.Address, err)
	}

	rec := layout.Vault{
		Authority:      authority,
		VaultID:        v.VaultID,
		Asset:          asset,
		Status:         status,
		TargetYieldBps: v.TargetYieldBps,
		FundingCloseTS: v.FundingCloseTS,
		MaturityTS:     v.MaturityTS,
	}

	fields := []struct {
		name  string
		value string
		dst   *uint64
	}{
		{"capacity", v.Capacity, &rec.Capacity},
		{"totalDeposited", v.TotalDeposited, &rec.TotalDeposited},
		{"totalClaimed", v.TotalClaimed, &rec.TotalClaimed},
		{"minDeposit", v.MinDeposit, &rec.MinDeposit},
	}
	for _, f := range fields {
		parsed, err := strconv.ParseUint(f.value, 10, 64)
		if err != nil {
			return layout.Vault{}, derive.Address{}, fmt.Errorf("api: vault %s: parse %s %q: %w", v.Address, f.name, f.value, err)
		}
		*f.dst = parsed
	}

	if v.PayoutNumerator != "" || v.PayoutDenominator != "" {
		num, err := strconv.ParseUint(v.PayoutNumerator, 10, 64)
		if err != nil {
			return layout.Vault{}, derive.Address{}, fmt.Errorf("api: vault %s: parse payoutNumerator %q: %w", v.Address, v.PayoutNumerator, err)
		}
		den, err := strconv.ParseUint(v.PayoutDenominator, 10, 64)
		if err != nil {
			return layout.Vault{}, derive.Address{}, fmt.Errorf("api: vault %s: parse payoutDenominator %q: %w", v.Address, v.PayoutDenominator, err)
		}
		rec.PayoutSet = true
		rec.PayoutNumerator = num
		rec.PayoutDenominator = den
	}

	return rec, addr, nil
}

// Record converts the DTO to the on-ledger position record.
func (p Position) Record() (layout.Position, derive.Address, error) {
	addr, err := derive.ParseAddress(p.Address)
	if err != nil {
		return layout.Position{}, derive.Address{}, fmt.Errorf("api: position: %w", err)
	}
	owner, err := derive.ParseAddress(p.Owner)
	if err != nil {
		return layout.Position{}, derive.Address{}, fmt.Errorf("api: position %s: %w", p.Address, err)
	}
	vault, err := derive.ParseAddress(p.Vault)
	if err != nil {
		return layout.Position{}, derive.Address{}, fmt.Errorf("api: position %s: %w", p.Address, err)
	}

	deposited, err := strconv.ParseUint(p.Deposited, 10, 64)
	if err != nil {
		return layout.Position{}, derive.Address{}, fmt.Errorf("api: position %s: parse deposited %q: %w", p.Address, p.Deposited, err)
	}
	claimed, err := strconv.ParseUint(p.Claimed, 10, 64)
	if err != nil {
		return layout.Position{}, derive.Address{}, fmt.Errorf("api: position %s: parse claimed %q: %w", p.Address, p.Claimed, err)
	}

	return layout.Position{Owner: owner, Vault: vault, Deposited: deposited, Claimed: claimed}, addr, nil
}
