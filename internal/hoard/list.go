// Package hoard inspects a team's completed missions: the archive list and the board
// snapshot stored with each one.
package hoard

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// OutputFormat specifies how to format the archive list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete archives as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Source is the subset of the blackboard hoard reads from.
type Source interface {
	ListArchives(ctx context.Context, teamID string) ([]*blackboard.MissionArchive, error)
	GetArchiveSnapshot(ctx context.Context, archiveID string) ([]*blackboard.Task, error)
}

// FilterCriteria narrows the archive list. All filters are ANDed together.
type FilterCriteria struct {
	SinceTimestampMs int64  // Completed at or after, 0 = no filter
	UntilTimestampMs int64  // Completed at or before, 0 = no filter
	MissionGlob      string // Case-insensitive glob on the mission name, empty = no filter
	MemberID         string // Only cycles in which this member earned XP, empty = no filter
}

func (fc *FilterCriteria) matchesFilter(a *blackboard.MissionArchive) bool {
	if fc.SinceTimestampMs > 0 && a.CompletedAtMs < fc.SinceTimestampMs {
		return false
	}
	if fc.UntilTimestampMs > 0 && a.CompletedAtMs > fc.UntilTimestampMs {
		return false
	}

	if fc.MissionGlob != "" {
		matched, err := filepath.Match(strings.ToLower(fc.MissionGlob), strings.ToLower(a.MissionName))
		if err != nil || !matched {
			return false
		}
	}

	if fc.MemberID != "" && a.Awards[fc.MemberID] == 0 {
		return false
	}

	return true
}

// ListArchives writes the team's archives, oldest cycle first, in the requested format.
func ListArchives(ctx context.Context, src Source, teamID, teamName string, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	if format != OutputFormatDefault && format != OutputFormatJSONL {
		return fmt.Errorf("unknown output format: %s", format)
	}

	all, err := src.ListArchives(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}

	var archives []*blackboard.MissionArchive
	for _, a := range all {
		if filters != nil && !filters.matchesFilter(a) {
			continue
		}
		archives = append(archives, a)
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Cycle < archives[j].Cycle
	})

	if format == OutputFormatJSONL {
		if err := FormatJSONL(w, archives); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
		return nil
	}
	FormatTable(w, archives, teamName)
	return nil
}
