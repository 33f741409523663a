package cli

import (
	"github.com/spf13/cobra"

	"github.com/credit-markets/vitalfi-data/internal/app"
)

var positionsOwner string

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List an owner's positions with claimable balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Positions(cmd.Context(), app.PositionsOptions{Owner: positionsOwner})
	},
}

func init() {
	positionsCmd.Flags().StringVar(&positionsOwner, "owner", "", "Owner address")
}
