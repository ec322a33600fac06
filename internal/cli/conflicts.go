package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layersync/layersync/internal/render"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts <name>",
	Short: "List unresolved conflicts",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflicts,
}

var conflictsDiff bool

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.Flags().BoolVar(&conflictsDiff, "diff", false, "Show unified diffs for disputed fields")
}

func runConflicts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openContainer(cfg, args[0])
	if err != nil {
		return err
	}
	defer s.DB().Close()

	engine, err := newEngine(cfg, s)
	if err != nil {
		return err
	}

	items, err := engine.Conflicts(cmd.Context())
	if err != nil {
		return err
	}

	meta, err := s.Meta.Read(s.DB())
	if err != nil {
		return err
	}
	fmt.Print(render.Items(items, meta, conflictsDiff))
	return nil
}
