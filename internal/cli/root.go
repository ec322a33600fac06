// Package cli implements the layersync command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "layersync",
	Short: "Offline-first synchronization for geospatial feature layers",
	Long: `layersync keeps a local, editable replica ("container") of a remote
feature layer. Edits accumulate locally while disconnected; sync exchanges
deltas with the server and walks you through any conflicting edits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("url", "", "NGW base URL (overrides LAYERSYNC_URL)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (overrides LAYERSYNC_TOKEN)")
}
