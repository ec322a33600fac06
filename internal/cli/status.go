package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/layersync/layersync/internal/events"
)

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show container state and pending local changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	statusJSON   bool
	statusEvents int
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().IntVar(&statusEvents, "events", 0, "Show the last N sync log entries")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openContainer(cfg, args[0])
	if err != nil {
		return err
	}
	defer s.DB().Close()

	meta, err := s.Meta.Read(s.DB())
	if err != nil {
		return err
	}

	added, err := s.Changes.AddedFIDs(s.DB())
	if err != nil {
		return err
	}
	removed, err := s.Changes.RemovedFIDs(s.DB())
	if err != nil {
		return err
	}
	updatedAttrs, err := s.Changes.UpdatedAttributeFIDs(s.DB())
	if err != nil {
		return err
	}
	updatedGeoms, err := s.Changes.UpdatedGeometryFIDs(s.DB())
	if err != nil {
		return err
	}
	count, err := s.Features.Count(s.DB())
	if err != nil {
		return err
	}

	if statusJSON {
		out := map[string]interface{}{
			"resource_id":        meta.ResourceID,
			"versioned":          meta.IsVersioned,
			"epoch":              meta.Epoch,
			"version":            meta.Version,
			"geometry_type":      meta.GeometryType,
			"features":           count,
			"pending_creates":    len(added),
			"pending_deletes":    len(removed),
			"dirty_attributes":   len(updatedAttrs),
			"dirty_geometries":   len(updatedGeoms),
		}
		if meta.SyncDate != nil {
			out["sync_date"] = meta.SyncDate.Format(time.RFC3339)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("resource:       %d\n", meta.ResourceID)
	if meta.IsVersioned {
		fmt.Printf("versioning:     on (epoch %d, version %d)\n", meta.Epoch, meta.Version)
	} else {
		fmt.Printf("versioning:     off\n")
	}
	fmt.Printf("geometry:       %s\n", meta.GeometryType)
	fmt.Printf("features:       %d\n", count)
	if meta.SyncDate != nil {
		fmt.Printf("last sync:      %s\n", meta.SyncDate.Format(time.RFC3339))
	} else {
		fmt.Printf("last sync:      never\n")
	}
	fmt.Printf("pending:        %d created, %d deleted, %d with field edits, %d with geometry edits\n",
		len(added), len(removed), len(updatedAttrs), len(updatedGeoms))

	if statusEvents > 0 {
		writer := events.NewWriter(s.DB().DB)
		entries, err := writer.Recent(statusEvents)
		if err != nil {
			return err
		}
		fmt.Printf("\nrecent events:\n")
		for _, e := range entries {
			line := fmt.Sprintf("  %s  %s", e.Timestamp.Format(time.RFC3339), e.EventType)
			if e.Payload != nil {
				line += "  " + *e.Payload
			}
			fmt.Println(line)
		}
	}
	return nil
}
