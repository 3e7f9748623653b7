package cmd

import (
	"os"

	"github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const defaultDashboardURL = "https://app.skimmr.dev"

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the Skimmr dashboard in your browser",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := defaultDashboardURL
		if v := os.Getenv("SKIMMR_DASHBOARD_URL"); v != "" {
			url = v
		}
		pterm.Info.Printf("Opening %s\n", url)
		return browser.OpenURL(url)
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
