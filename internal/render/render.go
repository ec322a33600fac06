// Package render formats conflict items for terminal display.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/resolve"
)

// Item formats one conflict item as a human-readable block. withDiff adds a
// unified diff per disputed field.
func Item(it *resolve.Item, meta *domain.ContainerMeta, withDiff bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "feature %d: %s\n", it.Conflict.FID, shape(it.Conflict))

	switch {
	case it.LocalFeature == nil:
		b.WriteString("  deleted locally, updated remotely; pick a side\n")
	case it.RemoteFeature == nil:
		b.WriteString("  updated locally, deleted remotely; pick a side\n")
	default:
		for _, id := range it.Conflict.ConflictingFields {
			name := fieldName(meta, id)
			local := formatValue(it.LocalFeature.Fields[id])
			remote := formatValue(it.RemoteFeature.Fields[id])
			fmt.Fprintf(&b, "  field %s: local=%s remote=%s\n", name, local, remote)
			if withDiff {
				b.WriteString(indent(fieldDiff(local, remote), "    "))
			}
		}
		if it.Conflict.HasGeometryConflict {
			fmt.Fprintf(&b, "  geometry: local=%s remote=%s\n",
				truncate(it.LocalFeature.Geom, 60), truncate(it.RemoteFeature.Geom, 60))
			if withDiff {
				b.WriteString(indent(fieldDiff(it.LocalFeature.Geom, it.RemoteFeature.Geom), "    "))
			}
		}
	}

	if it.IsResolved {
		fmt.Fprintf(&b, "  resolution: %s\n", it.ResolutionType())
	} else {
		b.WriteString("  resolution: pending\n")
	}
	return b.String()
}

// Items formats a batch of conflict items.
func Items(items []*resolve.Item, meta *domain.ContainerMeta, withDiff bool) string {
	if len(items) == 0 {
		return "no conflicts\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d conflict(s)\n\n", len(items))
	for _, it := range items {
		b.WriteString(Item(it, meta, withDiff))
		b.WriteString("\n")
	}
	return b.String()
}

// Summary formats one conflict as a single line for list output.
func Summary(it *resolve.Item, meta *domain.ContainerMeta) string {
	names := make([]string, 0, len(it.Conflict.ConflictingFields))
	for _, id := range it.Conflict.ConflictingFields {
		names = append(names, fieldName(meta, id))
	}
	sort.Strings(names)
	disputed := strings.Join(names, ",")
	if it.Conflict.HasGeometryConflict {
		if disputed != "" {
			disputed += ","
		}
		disputed += "geometry"
	}
	if disputed == "" {
		disputed = "-"
	}
	return fmt.Sprintf("%d\t%s\t%s", it.Conflict.FID, shape(it.Conflict), disputed)
}

func fieldDiff(local, remote string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(local),
		B:        difflib.SplitLines(remote),
		FromFile: "local",
		ToFile:   "remote",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

func shape(c domain.Conflict) string {
	return fmt.Sprintf("%s/%s", c.Local.Type(), c.Remote.Type())
}

func fieldName(meta *domain.ContainerMeta, id domain.FieldID) string {
	if fm, ok := meta.FieldByNgwID(id); ok {
		return fm.Keyname
	}
	return fmt.Sprintf("#%d", id)
}

func formatValue(v interface{}) string {
	if v == nil {
		return "<null>"
	}
	return fmt.Sprintf("%v", v)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func indent(s, prefix string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
