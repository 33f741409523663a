package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/credit-markets/vitalfi-data/internal/amount"
)

// Positions prints an owner's positions with entitlement balances.
func (a *App) Positions(ctx context.Context, opts PositionsOptions) error {
	if opts.Owner == "" {
		return errors.New("--owner is required")
	}

	svc, cleanup, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	views, err := svc.Positions(ctx, opts.Owner)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(os.Stdout, "no positions found")
		return nil
	}

	conv := amount.NewConverter(a.Logger)
	decimals := a.Config.Ledger.AssetDecimals

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Address\tVault\tStatus\tDeposited\tClaimed\tEntitled\tClaimable")

	for _, view := range views {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			view.Address,
			view.Position.Vault,
			view.VaultStatus,
			formatBase(conv, view.Position.Deposited, decimals),
			formatBase(conv, view.Position.Claimed, decimals),
			formatBaseString(conv, view.Entitled, decimals),
			formatBaseString(conv, view.Claimable, decimals),
		)
	}

	writer.Flush()
	return nil
}

func formatBaseString(conv amount.Converter, baseUnits string, decimals uint8) string {
	if baseUnits == "" {
		return "-"
	}
	value := conv.FromBaseUnits(baseUnits, decimals)
	return strconv.FormatFloat(value, 'f', -1, 64)
}
