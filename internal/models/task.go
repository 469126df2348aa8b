package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// Record field names as they are stored under tasks/{userId}/{taskId}.
const (
	FieldText          = "text"
	FieldDescription   = "description"
	FieldDueDate       = "dueDate"
	FieldCompleted     = "completed"
	FieldCompletedDate = "completedDate"
	FieldPriority      = "priority"
	FieldCreatedAt     = "createdAt"
	FieldUpdatedAt     = "updatedAt"
)

// PriorityAll is the filter value that disables priority filtering.
const PriorityAll = "All"

// Priorities lists the labels offered by the label view.
var Priorities = []string{"Priority 1", "Priority 2", "Priority 3", "Priority 4"}

// Task is one record of a user's task collection. ID is the store key.
// Fields the application does not know about are kept in Extra and written back out
// unchanged by MarshalJSON.
type Task struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	Description   string         `json:"description,omitempty"`
	DueDate       string         `json:"dueDate,omitempty"`
	Completed     bool           `json:"completed"`
	CompletedDate string         `json:"completedDate,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	CreatedAt     string         `json:"createdAt,omitempty"`
	UpdatedAt     string         `json:"updatedAt,omitempty"`
	Extra         map[string]any `json:"-"`
}

// TaskFromRecord builds a Task from a raw store record. Known fields holding a value of an
// unexpected type are treated as unknown and kept in Extra.
func TaskFromRecord(id string, record map[string]any) Task {
	task := Task{ID: id}
	for name, value := range record {
		if !task.setField(name, value) {
			if task.Extra == nil {
				task.Extra = make(map[string]any)
			}
			task.Extra[name] = value
		}
	}
	return task
}

func (t *Task) setField(name string, value any) bool {
	if name == FieldCompleted {
		b, ok := value.(bool)
		if ok {
			t.Completed = b
		}
		return ok
	}

	s, ok := value.(string)
	if !ok {
		return false
	}
	switch name {
	case FieldText:
		t.Text = s
	case FieldDescription:
		t.Description = s
	case FieldDueDate:
		t.DueDate = s
	case FieldCompletedDate:
		t.CompletedDate = s
	case FieldPriority:
		t.Priority = s
	case FieldCreatedAt:
		t.CreatedAt = s
	case FieldUpdatedAt:
		t.UpdatedAt = s
	default:
		return false
	}
	return true
}

// HasDueDate reports whether a due date is set.
func (t Task) HasDueDate() bool {
	return strings.TrimSpace(t.DueDate) != ""
}

// ExtraKeys returns the names of unknown fields in a stable order.
func (t Task) ExtraKeys() []string {
	keys := make([]string, 0, len(t.Extra))
	for k := range t.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type taskJSON Task

func (t Task) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(taskJSON(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(t.Extra)+9)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := raw["id"].(string)
	delete(raw, "id")
	*t = TaskFromRecord(id, raw)
	return nil
}
