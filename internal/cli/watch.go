package cli

import (
	"github.com/spf13/cobra"

	"github.com/credit-markets/vitalfi-data/internal/app"
)

var watchAddress string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow an account and log each distinct change",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context(), app.WatchOptions{Address: watchAddress})
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchAddress, "address", "", "Account address to watch")
}
