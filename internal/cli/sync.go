package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layersync/layersync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync <name>",
	Short: "Synchronize a container with its remote layer",
	Long: `Fetches the remote delta, applies non-conflicting changes, then uploads
pending local changes. Conflicting edits are surfaced; settle them with
"layersync resolve".`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var syncDownloadOnly bool

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncDownloadOnly, "download-only", false, "Skip uploading local changes")
}

func runSync(cmd *cobra.Command, args []string) error {
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

	res, err := engine.Sync(cmd.Context())
	if err != nil {
		return err
	}

	if res.State == sync.StateConflicted {
		fmt.Printf("applied %d change(s); %d conflict(s) need resolution\n", res.Applied, len(res.Conflicts))
		fmt.Printf("run: layersync conflicts %s\n", args[0])
		return nil
	}
	fmt.Printf("downloaded %d change(s), container at version %d\n", res.Applied, res.Version)

	if syncDownloadOnly {
		return nil
	}

	stats, err := engine.Upload(cmd.Context())
	if err != nil {
		return err
	}
	if stats.Total() == 0 {
		fmt.Println("nothing to upload")
		return nil
	}
	fmt.Printf("uploaded %d create(s), %d update(s), %d delete(s)\n",
		stats.Creates, stats.Updates, stats.Deletes)
	return nil
}
