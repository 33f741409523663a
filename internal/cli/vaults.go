package cli

import (
	"github.com/spf13/cobra"

	"github.com/credit-markets/vitalfi-data/internal/app"
)

var vaultsAuthority string

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "List vaults with funding progress and maturity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Vaults(cmd.Context(), app.VaultsOptions{Authority: vaultsAuthority})
	},
}

func init() {
	vaultsCmd.Flags().StringVar(&vaultsAuthority, "authority", "", "Authority address (defaults to config)")
}
