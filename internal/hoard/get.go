package hoard

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// MinPrefixLength is the shortest archive ID prefix accepted.
const MinPrefixLength = 6

// GetArchive resolves ref to one of the team's archives and writes it, with its board
// snapshot, as pretty-printed JSON. ref is a cycle number, a full archive ID or a unique
// ID prefix.
func GetArchive(ctx context.Context, src Source, teamID, ref string, w io.Writer) error {
	archive, err := resolve(ctx, src, teamID, strings.TrimSpace(ref))
	if err != nil {
		return err
	}

	snapshot, err := src.GetArchiveSnapshot(ctx, archive.ID)
	if err != nil && !blackboard.IsNotFound(err) {
		return fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if snapshot == nil {
		snapshot = []*blackboard.Task{}
	}

	if err := FormatSingleJSON(w, &Detail{Archive: archive, Snapshot: snapshot}); err != nil {
		return fmt.Errorf("failed to format archive: %w", err)
	}
	return nil
}

func resolve(ctx context.Context, src Source, teamID, ref string) (*blackboard.MissionArchive, error) {
	if ref == "" {
		return nil, fmt.Errorf("archive reference cannot be empty")
	}

	archives, err := src.ListArchives(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	if cycle, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil {
		for _, a := range archives {
			if a.Cycle == cycle {
				return a, nil
			}
		}
		return nil, &ArchiveNotFoundError{Ref: ref}
	}

	if len(ref) < MinPrefixLength {
		return nil, fmt.Errorf("archive ID prefix must be at least %d characters (got %d)", MinPrefixLength, len(ref))
	}

	var match *blackboard.MissionArchive
	for _, a := range archives {
		if !strings.HasPrefix(a.ID, strings.ToLower(ref)) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("ambiguous archive reference '%s'", ref)
		}
		match = a
	}
	if match == nil {
		return nil, &ArchiveNotFoundError{Ref: ref}
	}
	return match, nil
}

// ArchiveNotFoundError reports that no archive of the team matched the reference.
type ArchiveNotFoundError struct {
	Ref string
}

func (e *ArchiveNotFoundError) Error() string {
	return fmt.Sprintf("archive '%s' not found", e.Ref)
}

// IsNotFound returns true if the error is an ArchiveNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*ArchiveNotFoundError)
	return ok
}
