package todo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"todo-task/backend/internal/models"
	"todo-task/backend/internal/store"
)

var (
	ErrNoUser       = errors.New("no signed-in user")
	ErrEmptyText    = errors.New("task text is required")
	ErrTaskNotFound = errors.New("task not found")
)

// TaskInput is the content of the add and edit forms.
type TaskInput struct {
	Text        string `form:"text" json:"text"`
	Description string `form:"description" json:"description"`
	DueDate     string `form:"dueDate" json:"dueDate"`
	Priority    string `form:"priority" json:"priority"`
}

// Gateway turns user intents into store writes. It never changes local state; the result
// of a write is observed through the task subscription.
type Gateway struct {
	store  store.Store
	now    func() time.Time
	logger *log.Logger
}

func NewGateway(s store.Store, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{store: s, now: time.Now, logger: logger}
}

func (g *Gateway) timestamp() string {
	return models.FormatTimestamp(g.now())
}

func validPriority(p string) bool {
	for _, known := range models.Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// Create appends a new incomplete task and returns its key.
func (g *Gateway) Create(ctx context.Context, userID string, in TaskInput) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", ErrEmptyText
	}

	path, err := store.TasksPath(userID)
	if err != nil {
		return "", err
	}

	record := store.Record{
		models.FieldText:        in.Text,
		models.FieldDescription: in.Description,
		models.FieldCompleted:   false,
		models.FieldDueDate:     nil,
		models.FieldCreatedAt:   g.timestamp(),
	}
	if in.DueDate != "" {
		record[models.FieldDueDate] = in.DueDate
	}
	if validPriority(in.Priority) {
		record[models.FieldPriority] = in.Priority
	}

	key, err := g.store.Push(ctx, path, record)
	if err != nil {
		g.logger.Printf("[todo] error adding task for %s: %v", userID, err)
		return "", fmt.Errorf("create task: %w", err)
	}
	return key, nil
}

// ToggleCompletion flips the completed flag given its current value. Completing a task
// stamps completedDate; reopening it removes the stamp.
func (g *Gateway) ToggleCompletion(ctx context.Context, userID, taskID string, current bool) error {
	if userID == "" {
		return ErrNoUser
	}

	path, err := store.TaskPath(userID, taskID)
	if err != nil {
		return err
	}

	fields := store.Record{
		models.FieldCompleted:     !current,
		models.FieldCompletedDate: nil,
	}
	if !current {
		fields[models.FieldCompletedDate] = g.timestamp()
	}

	if err := g.store.Update(ctx, path, fields); err != nil {
		g.logger.Printf("[todo] error toggling completion of %s: %v", taskID, err)
		return fmt.Errorf("toggle task: %w", err)
	}
	return nil
}

// Edit replaces text, description and due date. An empty due date removes it.
func (g *Gateway) Edit(ctx context.Context, userID, taskID string, in TaskInput) error {
	if userID == "" {
		return ErrNoUser
	}
	if strings.TrimSpace(in.Text) == "" {
		return ErrEmptyText
	}

	path, err := store.TaskPath(userID, taskID)
	if err != nil {
		return err
	}

	fields := store.Record{
		models.FieldText:        in.Text,
		models.FieldDescription: in.Description,
		models.FieldDueDate:     nil,
		models.FieldUpdatedAt:   g.timestamp(),
	}
	if in.DueDate != "" {
		fields[models.FieldDueDate] = in.DueDate
	}
	if validPriority(in.Priority) {
		fields[models.FieldPriority] = in.Priority
	}

	if err := g.store.Update(ctx, path, fields); err != nil {
		g.logger.Printf("[todo] error editing task %s: %v", taskID, err)
		return fmt.Errorf("edit task: %w", err)
	}
	return nil
}

func (g *Gateway) Delete(ctx context.Context, userID, taskID string) error {
	if userID == "" {
		return ErrNoUser
	}

	path, err := store.TaskPath(userID, taskID)
	if err != nil {
		return err
	}

	if err := g.store.Remove(ctx, path); err != nil {
		g.logger.Printf("[todo] error deleting task %s: %v", taskID, err)
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// Message returns the text shown to a user when an action fails.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyText):
		return "Task text cannot be empty."
	case errors.Is(err, ErrNoUser):
		return "Please sign in first."
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, store.ErrNotFound):
		return "That task no longer exists."
	default:
		return "Could not save your changes. Please try again."
	}
}
