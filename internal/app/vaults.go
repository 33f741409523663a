package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/credit-markets/vitalfi-data/internal/amount"
)

// Vaults prints the authority's vaults with derived funding fields.
func (a *App) Vaults(ctx context.Context, opts VaultsOptions) error {
	if opts.Authority != "" {
		a.Config.Ledger.Authority = opts.Authority
	}

	svc, cleanup, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	views, err := svc.Vaults(ctx)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(os.Stdout, "no vaults found")
		return nil
	}

	conv := amount.NewConverter(a.Logger)
	decimals := a.Config.Ledger.AssetDecimals

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Address\tID\tStatus\tCapacity\tDeposited\tRemaining\tProgress%\tMaturity (UTC)\tDays")

	for _, view := range views {
		v := view.Vault
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%.1f\t%s\t%d\n",
			view.Address,
			v.VaultID,
			v.Status,
			formatBase(conv, v.Capacity, decimals),
			formatBase(conv, v.TotalDeposited, decimals),
			formatBase(conv, view.CapacityRemaining, decimals),
			view.FundingProgressPct,
			time.Unix(v.MaturityTS, 0).UTC().Format(time.RFC3339),
			view.DaysToMaturity,
		)
	}

	writer.Flush()
	return nil
}

func formatBase(conv amount.Converter, baseUnits uint64, decimals uint8) string {
	value := conv.FromBaseUnits(strconv.FormatUint(baseUnits, 10), decimals)
	return strconv.FormatFloat(value, 'f', -1, 64)
}
