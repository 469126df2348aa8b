package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"todo-task/backend/internal/models"

	"github.com/gofrs/uuid"
)

func TestTaskFromRecord_KnownFields(t *testing.T) {
	task := models.TaskFromRecord("-Nabc", map[string]any{
		"text":          "Buy milk",
		"description":   "2 litres",
		"dueDate":       "2024-05-01",
		"completed":     true,
		"completedDate": "2024-05-02T10:00:00.000Z",
		"priority":      "Priority 2",
	})

	if task.ID != "-Nabc" {
		t.Errorf("Expected id '-Nabc', got '%s'", task.ID)
	}

	if task.Text != "Buy milk" || task.Description != "2 litres" {
		t.Errorf("Unexpected text/description: %q %q", task.Text, task.Description)
	}

	if !task.Completed {
		t.Error("Expected task to be completed")
	}

	if task.Priority != "Priority 2" {
		t.Errorf("Expected priority 'Priority 2', got '%s'", task.Priority)
	}

	if len(task.Extra) != 0 {
		t.Errorf("Expected no extra fields, got %v", task.Extra)
	}
}

func TestTaskFromRecord_UnknownFieldsKept(t *testing.T) {
	task := models.TaskFromRecord("k1", map[string]any{
		"text":      "a",
		"color":     "red",
		"completed": "yes",
	})

	if task.Completed {
		t.Error("Expected a non-bool completed value to be ignored")
	}

	if task.Extra["color"] != "red" || task.Extra["completed"] != "yes" {
		t.Errorf("Expected unknown and mistyped fields in Extra, got %v", task.Extra)
	}

	keys := task.ExtraKeys()
	if len(keys) != 2 || keys[0] != "color" || keys[1] != "completed" {
		t.Errorf("Expected sorted extra keys, got %v", keys)
	}
}

func TestTask_JSONKeepsExtraFields(t *testing.T) {
	in := []byte(`{"id":"k1","text":"a","completed":false,"color":"red","tags":["x"]}`)

	var task models.Task
	if err := json.Unmarshal(in, &task); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if task.ID != "k1" || task.Text != "a" {
		t.Errorf("Unexpected task: %+v", task)
	}

	out, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("Unmarshal of output failed: %v", err)
	}

	if decoded["color"] != "red" {
		t.Errorf("Expected color to survive, got %v", decoded["color"])
	}

	if tags, ok := decoded["tags"].([]any); !ok || len(tags) != 1 {
		t.Errorf("Expected tags to survive, got %v", decoded["tags"])
	}

	if decoded["id"] != "k1" {
		t.Errorf("Expected id 'k1', got %v", decoded["id"])
	}
}

func TestTask_HasDueDate(t *testing.T) {
	if (models.Task{}).HasDueDate() {
		t.Error("Expected no due date on empty task")
	}

	if !(models.Task{DueDate: "2024-01-01"}).HasDueDate() {
		t.Error("Expected due date to be reported")
	}
}

func TestDayOf(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
	}{
		{"2024-03-09", "2024-03-09", true},
		{"2024-03-09T23:10:00Z", "2024-03-09", true},
		{"2024-03-09T08:00:00.123+02:00", "2024-03-09", true},
		{"not a date", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			day, ok := models.DayOf(tt.input)
			if ok != tt.ok || day != tt.expected {
				t.Errorf("DayOf(%q) = %q, %v; want %q, %v", tt.input, day, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.FixedZone("X", 3600))

	if got := models.FormatTimestamp(ts); got != "2024-01-02T02:04:05.006Z" {
		t.Errorf("Unexpected timestamp %s", got)
	}
}

func TestToken_IsExpired(t *testing.T) {
	now := time.Now()
	token := models.Token{
		ID:           uuid.Must(uuid.NewV4()),
		UserId:       uuid.Must(uuid.NewV4()),
		RefreshToken: uuid.Must(uuid.NewV4()),
		ExpiresAt:    now.Add(time.Hour),
	}

	if token.IsExpired(now) {
		t.Error("Expected token to be valid")
	}

	if !token.IsExpired(now.Add(2 * time.Hour)) {
		t.Error("Expected token to be expired")
	}
}
