package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Destructively rebuild a container from the remote state",
	Long: `Drops all pending local changes and the local feature set, then
re-downloads the remote layer. This is the standard remediation when the
remote structure, epoch, or versioning state changed under the container.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

var resetYes bool

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm: discard all pending local changes")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("reset discards all pending local changes; re-run with --yes to confirm")
	}

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
	if err := engine.Reset(cmd.Context(), "user request"); err != nil {
		return err
	}

	meta, err := s.Meta.Read(s.DB())
	if err != nil {
		return err
	}
	fmt.Printf("reset %s: resource %d, %d features, version %d\n",
		args[0], meta.ResourceID, meta.FeaturesCount, meta.Version)
	return nil
}
