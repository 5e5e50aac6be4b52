// Package resolver turns the short identifiers typed at the CLI into full IDs.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// TaskLister is the subset of the blackboard used to resolve task IDs.
type TaskLister interface {
	ListTasks(ctx context.Context, teamID string) ([]*blackboard.Task, error)
}

// ResolveTaskID resolves a full task ID or a unique prefix of one within a team.
func ResolveTaskID(ctx context.Context, lister TaskLister, teamID, shortID string) (string, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))
	isFull := len(shortID) == 36 && strings.Count(shortID, "-") == 4
	if !isFull && len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	tasks, err := lister.ListTasks(ctx, teamID)
	if err != nil {
		return "", fmt.Errorf("failed to search for task: %w", err)
	}

	var matches []string
	for _, t := range tasks {
		if t.ID == shortID {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, shortID) {
			matches = append(matches, t.ID)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Kind: "task", ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Kind: "task", ShortID: shortID, Matches: matches}
	}
}

// ResolveMember finds a member by ID, ID prefix or case-insensitive name.
func ResolveMember(members []*blackboard.Member, ref string) (*blackboard.Member, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("member reference cannot be empty")
	}

	var matches []*blackboard.Member
	for _, m := range members {
		if m.ID == ref {
			return m, nil
		}
		if strings.EqualFold(m.Name, ref) || (len(ref) >= MinShortIDLength && strings.HasPrefix(m.ID, strings.ToLower(ref))) {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Kind: "member", ShortID: ref}
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = fmt.Sprintf("%s (%s)", m.ID, m.Name)
		}
		return nil, &AmbiguousError{Kind: "member", ShortID: ref, Matches: ids}
	}
}

// ShortID returns the display prefix of a full ID.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// NotFoundError indicates nothing matched the reference.
type NotFoundError struct {
	Kind    string
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %ss found matching '%s'", e.Kind, e.ShortID)
}

// AmbiguousError indicates several records matched the reference.
type AmbiguousError struct {
	Kind    string
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous %s reference '%s' matches %d %ss", e.Kind, e.ShortID, len(e.Matches), e.Kind)
}

// FormatAmbiguousError creates a user-friendly error message for ambiguous references.
// Lists all matches (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous %s reference '%s' matches %d %ss:\n", err.Kind, err.ShortID, len(err.Matches), err.Kind)

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}
	for i := 0; i < displayCount; i++ {
		fmt.Fprintf(&b, "  %s\n", err.Matches[i])
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	fmt.Fprintf(&b, "\nUse a longer prefix to uniquely identify the %s.", err.Kind)
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
