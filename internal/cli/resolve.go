package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/resolve"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Settle conflicts and finish the synchronization",
	Long: `Settles the container's pending conflicts and applies the merged result.
Resolution is all-or-nothing: every conflict must get a decision or the
attempt fails and nothing is applied.

Decisions:
  --all-local / --all-remote      settle every conflict in one direction
  --local 10,12 / --remote 11     settle listed features in one direction
  --set 10:NAME=value             choose a custom value for one disputed field
  --geom 10=POINT(1 1)            choose a custom geometry`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var (
	resolveAllLocal  bool
	resolveAllRemote bool
	resolveLocal     string
	resolveRemote    string
	resolveSet       []string
	resolveGeom      []string
)

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveAllLocal, "all-local", false, "Keep the local side of every conflict")
	resolveCmd.Flags().BoolVar(&resolveAllRemote, "all-remote", false, "Keep the remote side of every conflict")
	resolveCmd.Flags().StringVar(&resolveLocal, "local", "", "Comma-separated feature ids to keep local")
	resolveCmd.Flags().StringVar(&resolveRemote, "remote", "", "Comma-separated feature ids to keep remote")
	resolveCmd.Flags().StringArrayVar(&resolveSet, "set", nil, "Custom field value as fid:keyname=value")
	resolveCmd.Flags().StringArrayVar(&resolveGeom, "geom", nil, "Custom geometry as fid=geometry")
}

func runResolve(cmd *cobra.Command, args []string) error {
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

	meta, err := s.Meta.Read(s.DB())
	if err != nil {
		return err
	}

	localFIDs, err := parseFIDList(resolveLocal)
	if err != nil {
		return err
	}
	remoteFIDs, err := parseFIDList(resolveRemote)
	if err != nil {
		return err
	}
	customFields, err := parseSetFlags(meta, resolveSet)
	if err != nil {
		return err
	}
	customGeoms, err := parseGeomFlags(resolveGeom)
	if err != nil {
		return err
	}

	chooser := func(items []*resolve.Item) error {
		for _, it := range items {
			fid := it.Conflict.FID

			for id, value := range customFields[fid] {
				if err := it.SetField(id, value); err != nil {
					return fmt.Errorf("feature %d: %w", fid, err)
				}
			}
			if geom, ok := customGeoms[fid]; ok {
				if err := it.SetGeometry(geom); err != nil {
					return fmt.Errorf("feature %d: %w", fid, err)
				}
			}
			if it.IsResolved {
				continue
			}

			switch {
			case localFIDs[fid] || resolveAllLocal:
				it.ChooseLocal()
			case remoteFIDs[fid] || resolveAllRemote:
				it.ChooseRemote()
			}
		}
		return nil
	}

	res, err := engine.Resolve(cmd.Context(), chooser)
	if err != nil {
		return err
	}
	fmt.Printf("resolved; applied %d change(s), container at version %d\n", res.Applied, res.Version)
	return nil
}

func parseFIDList(s string) (map[domain.FeatureID]bool, error) {
	fids := make(map[domain.FeatureID]bool)
	if s == "" {
		return fids, nil
	}
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature id %q: %w", part, err)
		}
		fids[domain.FeatureID(id)] = true
	}
	return fids, nil
}

// parseSetFlags parses fid:keyname=value entries. Values parse as JSON when
// possible (numbers, booleans, null), otherwise as plain strings.
func parseSetFlags(meta *domain.ContainerMeta, entries []string) (map[domain.FeatureID]map[domain.FieldID]interface{}, error) {
	out := make(map[domain.FeatureID]map[domain.FieldID]interface{})
	for _, entry := range entries {
		head, rawValue, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, want fid:keyname=value", entry)
		}
		fidPart, keyname, ok := strings.Cut(head, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, want fid:keyname=value", entry)
		}
		fid, err := strconv.ParseInt(fidPart, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature id in --set %q: %w", entry, err)
		}

		fieldID, found := domain.FieldID(0), false
		for _, fm := range meta.Fields {
			if fm.Keyname == keyname {
				fieldID, found = fm.NgwID, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown field %q in --set %q", keyname, entry)
		}

		var value interface{}
		if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
			value = rawValue
		}

		if out[domain.FeatureID(fid)] == nil {
			out[domain.FeatureID(fid)] = make(map[domain.FieldID]interface{})
		}
		out[domain.FeatureID(fid)][fieldID] = value
	}
	return out, nil
}

func parseGeomFlags(entries []string) (map[domain.FeatureID]string, error) {
	out := make(map[domain.FeatureID]string)
	for _, entry := range entries {
		fidPart, geom, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --geom %q, want fid=geometry", entry)
		}
		fid, err := strconv.ParseInt(fidPart, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature id in --geom %q: %w", entry, err)
		}
		out[domain.FeatureID(fid)] = geom
	}
	return out, nil
}
