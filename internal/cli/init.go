package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/layersync/layersync/internal/ngw"
	"github.com/layersync/layersync/internal/sync"
)

var initCmd = &cobra.Command{
	Use:   "init <name> <resource-id>",
	Short: "Create a container from a remote layer",
	Long: `Creates a local container for the given remote resource: downloads the
layer schema, versioning state, and the full current feature set.`,
	Args: cobra.ExactArgs(2),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.URL == "" {
		return fmt.Errorf("no NGW URL configured (set LAYERSYNC_URL or pass --url)")
	}

	name := args[0]
	resourceID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid resource id %q: %w", args[1], err)
	}

	client := ngw.NewClient(cfg.URL, cfg.Token)
	s, err := sync.InitContainer(cmd.Context(), cfg.ContainerPath(name), client, cfg.ConnectionID, resourceID)
	if err != nil {
		return err
	}
	defer s.DB().Close()

	meta, err := s.Meta.Read(s.DB())
	if err != nil {
		return err
	}

	versioned := "non-versioned"
	if meta.IsVersioned {
		versioned = fmt.Sprintf("versioned (epoch %d, version %d)", meta.Epoch, meta.Version)
	}
	fmt.Printf("created %s: resource %d, %s, %d features\n",
		name, meta.ResourceID, versioned, meta.FeaturesCount)
	return nil
}
