package blackboard

import (
	"fmt"
	"reflect"
	"strconv"
	"testing"

	"github.com/google/uuid"
)

// TestTaskRoundTrip tests that task serialization maintains fidelity, including the optional deadline
func TestTaskRoundTrip(t *testing.T) {
	deadline := int64(1767225600000)
	original := validTask()
	original.Description = "multi\nline"
	original.AssigneeID = uuid.New().String()
	original.IsCritical = true
	original.DeadlineMs = &deadline
	original.CreatedAtMs = 1700000000000
	original.UpdatedAtMs = 1700000005000

	hash, err := TaskToHash(original)
	if err != nil {
		t.Fatalf("TaskToHash failed: %v", err)
	}

	result, err := HashToTask(toStringHash(hash))
	if err != nil {
		t.Fatalf("HashToTask failed: %v", err)
	}

	if !reflect.DeepEqual(original, result) {
		t.Errorf("round-trip failed:\noriginal: %+v\nresult:   %+v", original, result)
	}
}

// TestTaskRoundTrip_NilSubtasks tests that nil subtasks come back as an empty slice
func TestTaskRoundTrip_NilSubtasks(t *testing.T) {
	original := validTask()
	original.Subtasks = nil

	hash, err := TaskToHash(original)
	if err != nil {
		t.Fatalf("TaskToHash failed: %v", err)
	}
	result, err := HashToTask(toStringHash(hash))
	if err != nil {
		t.Fatalf("HashToTask failed: %v", err)
	}

	if result.Subtasks == nil || len(result.Subtasks) != 0 {
		t.Errorf("expected empty subtasks slice, got %#v", result.Subtasks)
	}
	if result.DeadlineMs != nil {
		t.Errorf("expected nil deadline, got %d", *result.DeadlineMs)
	}
}

// TestHashToTask_MalformedSubtasks tests error handling for corrupt subtask JSON
func TestHashToTask_MalformedSubtasks(t *testing.T) {
	hash := map[string]string{
		"id":       uuid.New().String(),
		"subtasks": "[{not json",
	}
	if _, err := HashToTask(hash); err == nil {
		t.Error("expected error for malformed subtasks JSON, got nil")
	}
}

// TestTeamRoundTrip tests team serialization including settings
func TestTeamRoundTrip(t *testing.T) {
	original := &Team{
		ID:                 uuid.New().String(),
		Name:               "Blue",
		LeaderID:           uuid.New().String(),
		InviteCode:         "ABCD1234",
		MissionName:        "Orbit",
		MissionGoal:        "Reach LEO",
		Cycle:              3,
		CompletedArchiveID: uuid.New().String(),
		Settings:           TeamSettings{AllowTaskCreation: true},
		CreatedAtMs:        1700000000000,
	}

	hash, err := TeamToHash(original)
	if err != nil {
		t.Fatalf("TeamToHash failed: %v", err)
	}
	result, err := HashToTeam(toStringHash(hash))
	if err != nil {
		t.Fatalf("HashToTeam failed: %v", err)
	}
	if !reflect.DeepEqual(original, result) {
		t.Errorf("round-trip failed:\noriginal: %+v\nresult:   %+v", original, result)
	}
}

// TestMemberToHash_OmitsOnline tests that presence-derived state is never persisted
func TestMemberToHash_OmitsOnline(t *testing.T) {
	m := &Member{ID: uuid.New().String(), Name: "Ada", Online: true}
	hash, err := MemberToHash(m)
	if err != nil {
		t.Fatalf("MemberToHash failed: %v", err)
	}
	if _, ok := hash["online"]; ok {
		t.Error("online must not be written to the member hash")
	}
	if hash["badges"] != "[]" {
		t.Errorf("nil badges should serialize as [], got %v", hash["badges"])
	}
}

// TestArchiveRoundTrip tests awards survive serialization
func TestArchiveRoundTrip(t *testing.T) {
	original := &MissionArchive{
		ID:            uuid.New().String(),
		TeamID:        uuid.New().String(),
		Cycle:         2,
		MissionName:   "Orbit",
		CompletedAtMs: 1700000000000,
		CompletedBy:   uuid.New().String(),
		Awards:        map[string]int{uuid.New().String(): 250},
		TotalXP:       250,
		SnapshotRef:   "sortie:ns:archive:x:snapshot",
	}

	hash, err := ArchiveToHash(original)
	if err != nil {
		t.Fatalf("ArchiveToHash failed: %v", err)
	}
	result, err := HashToArchive(toStringHash(hash))
	if err != nil {
		t.Fatalf("HashToArchive failed: %v", err)
	}
	if !reflect.DeepEqual(original, result) {
		t.Errorf("round-trip failed:\noriginal: %+v\nresult:   %+v", original, result)
	}
}

// toStringHash converts a hash to the string map Redis would hand back
func toStringHash(hash map[string]interface{}) map[string]string {
	out := make(map[string]string, len(hash))
	for k, v := range hash {
		out[k] = toString(v)
	}
	return out
}

// Helper function to convert interface{} to string (simulates Redis storage)
func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", v)
	}
}
