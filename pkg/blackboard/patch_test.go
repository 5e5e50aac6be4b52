package blackboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskPatch_ApplyAndInverse(t *testing.T) {
	deadline := int64(5000)
	prev := validTask()
	prev.DeadlineMs = &deadline

	title := "Renamed"
	critical := true
	patch := TaskPatch{Title: &title, IsCritical: &critical, ClearDeadline: true}

	next := prev.Clone()
	patch.Apply(next)
	assert.Equal(t, "Renamed", next.Title)
	assert.True(t, next.IsCritical)
	assert.Nil(t, next.DeadlineMs)
	assert.Equal(t, prev.Status, next.Status, "untouched fields stay")

	inv := patch.Inverse(prev)
	assert.Equal(t, []string{"title", "is_critical", "deadline_ms"}, inv.FieldNames())

	inv.Apply(next)
	assert.Equal(t, prev, next)
}

func TestTaskPatch_InverseOfNewDeadlineClears(t *testing.T) {
	prev := validTask()
	deadline := int64(9000)
	inv := TaskPatch{DeadlineMs: &deadline}.Inverse(prev)
	assert.True(t, inv.ClearDeadline)
	assert.Nil(t, inv.DeadlineMs)
}

func TestTaskPatch_Validate(t *testing.T) {
	blank := " "
	badStatus := TaskStatus("blocked")
	deadline := int64(1)

	assert.Error(t, TaskPatch{Title: &blank}.Validate())
	assert.Error(t, TaskPatch{Status: &badStatus}.Validate())
	assert.Error(t, TaskPatch{DeadlineMs: &deadline, ClearDeadline: true}.Validate())
	assert.NoError(t, StatusPatch(TaskStatusDone).Validate())
}

func TestTaskPatch_IsEmpty(t *testing.T) {
	assert.True(t, TaskPatch{}.IsEmpty())
	assert.False(t, StatusPatch(TaskStatusReview).IsEmpty())
	assert.False(t, TaskPatch{ClearDeadline: true}.IsEmpty())
}

func TestTaskPatch_HashFields(t *testing.T) {
	fields, err := TaskPatch{ClearDeadline: true, Subtasks: &[]Subtask{}}.hashFields()
	assert.NoError(t, err)
	assert.Equal(t, "", fields["deadline_ms"])
	assert.Equal(t, "[]", fields["subtasks"])
	assert.Len(t, fields, 2)
}
