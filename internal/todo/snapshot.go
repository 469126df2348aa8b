// Package todo is the per-client task list view-model: it follows the signed-in user,
// mirrors that user's task collection, derives the visible pages and sends edits back to
// the store.
package todo

import (
	"sort"

	"todo-task/backend/internal/models"
	"todo-task/backend/internal/store"
)

// TasksFromSnapshot converts a collection snapshot into tasks ordered by key. Push keys
// are chronological, so this is creation order.
func TasksFromSnapshot(snapshot store.Snapshot) []models.Task {
	tasks := make([]models.Task, 0, len(snapshot))
	if len(snapshot) == 0 {
		return tasks
	}

	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		tasks = append(tasks, models.TaskFromRecord(key, snapshot[key]))
	}
	return tasks
}
