package hoard

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// FormatTable writes archives as a table: ID, CYCLE, MISSION, BY, AGE, XP and the top
// earner. Returns the number of archives formatted.
func FormatTable(w io.Writer, archives []*blackboard.MissionArchive, teamName string) int {
	if len(archives) == 0 {
		fmt.Fprintf(w, "No completed missions for team '%s'\n", teamName)
		return 0
	}

	fmt.Fprintf(w, "Mission archive for team '%s':\n\n", teamName)

	fmt.Fprintf(w, "%-10s %-5s %-24s %-10s %-8s %-6s %s\n",
		"ID", "CYCLE", "MISSION", "BY", "AGE", "XP", "TOP")
	fmt.Fprintf(w, "%-10s %-5s %-24s %-10s %-8s %-6s %s\n",
		"----------", "-----", "------------------------", "----------", "--------", "------", "----------------")

	for _, a := range archives {
		fmt.Fprintf(w, "%-10s %-5d %-24s %-10s %-8s %-6d %s\n",
			formatID(a.ID),
			a.Cycle,
			formatMission(a.MissionName),
			formatID(a.CompletedBy),
			formatTimestamp(a.CompletedAtMs),
			a.TotalXP,
			formatTopEarner(a.Awards),
		)
	}

	noun := "mission"
	if len(archives) != 1 {
		noun = "missions"
	}
	fmt.Fprintf(w, "\n%d %s archived\n", len(archives), noun)

	return len(archives)
}

// FormatJSONL writes archives as line-delimited JSON, one archive per line.
func FormatJSONL(w io.Writer, archives []*blackboard.MissionArchive) error {
	for _, a := range archives {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal archive to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// Detail is a single archive together with the board as it stood at completion.
type Detail struct {
	Archive  *blackboard.MissionArchive `json:"archive"`
	Snapshot []*blackboard.Task         `json:"snapshot"`
}

// FormatSingleJSON writes one archive detail as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, d *Detail) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func formatID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatMission keeps mission names inside their column.
func formatMission(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "-"
	}
	if len([]rune(name)) > 24 {
		return string([]rune(name)[:21]) + "..."
	}
	return name
}

// formatTopEarner shows the member with the largest award; ties go to the smaller ID.
func formatTopEarner(awards map[string]int) string {
	if len(awards) == 0 {
		return "-"
	}
	ids := make([]string, 0, len(awards))
	for id := range awards {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	top := ids[0]
	for _, id := range ids[1:] {
		if awards[id] > awards[top] {
			top = id
		}
	}
	return fmt.Sprintf("%s (+%d)", formatID(top), awards[top])
}

// formatTimestamp formats Unix milliseconds as a relative age like "2m ago".
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
