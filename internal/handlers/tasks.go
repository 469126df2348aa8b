package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"todo-task/backend/internal/middleware"
	"todo-task/backend/internal/models"
	"todo-task/backend/internal/store"
	"todo-task/backend/internal/todo"

	"github.com/gin-gonic/gin"
)

// TaskHandler serves the task API of the signed-in caller.
type TaskHandler struct {
	store     store.Store
	gateway   *todo.Gateway
	sizes     todo.PageSizes
	keepAlive time.Duration
	logger    *log.Logger
}

func NewTaskHandler(s store.Store, sizes todo.PageSizes, logger *log.Logger) *TaskHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &TaskHandler{
		store:     s,
		gateway:   todo.NewGateway(s, logger),
		sizes:     sizes,
		keepAlive: 15 * time.Second,
		logger:    logger,
	}
}

type listQuery struct {
	View string `form:"view"`
	Page int    `form:"page"`
	todo.Filters
}

func (h *TaskHandler) userID(c *gin.Context) (string, bool) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return "", false
	}
	return userID, true
}

func (h *TaskHandler) loadTasks(ctx context.Context, userID string) ([]models.Task, error) {
	path, err := store.TasksPath(userID)
	if err != nil {
		return nil, err
	}
	snapshot, err := h.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return todo.TasksFromSnapshot(snapshot), nil
}

func (h *TaskHandler) findTask(ctx context.Context, userID, taskID string) (models.Task, error) {
	tasks, err := h.loadTasks(ctx, userID)
	if err != nil {
		return models.Task{}, err
	}
	for _, t := range tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return models.Task{}, todo.ErrTaskNotFound
}

// writeError maps task errors to a status code and a gin.H body.
func (h *TaskHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, todo.ErrEmptyText), errors.Is(err, store.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, todo.ErrNoUser):
		status = http.StatusUnauthorized
	case errors.Is(err, todo.ErrTaskNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.logger.Printf("[api] task request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": todo.Message(err)})
}

// GetTasks returns one page of a derived view. Query: view, page, q, date, priority.
func (h *TaskHandler) GetTasks(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view := todo.ViewHome
	if query.View != "" {
		parsed, known := todo.ParseView(query.View)
		if !known {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown view " + strconv.Quote(query.View)})
			return
		}
		view = parsed
	}
	if query.Priority == "" {
		query.Priority = models.PriorityAll
	}

	tasks, err := h.loadTasks(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	derived := todo.Derive(view, tasks, query.Filters)
	page := todo.Paginate(derived, query.Page, h.sizes.For(view))

	c.JSON(http.StatusOK, gin.H{
		"view":    view,
		"filters": query.Filters,
		"page":    page,
	})
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var input todo.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.gateway.Create(c.Request.Context(), userID, input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	task, err := h.findTask(c.Request.Context(), userID, id)
	if err != nil {
		c.JSON(http.StatusCreated, gin.H{"id": id})
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var input todo.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID := c.Param("id")
	if err := h.gateway.Edit(c.Request.Context(), userID, taskID, input); err != nil {
		h.writeError(c, err)
		return
	}

	task, err := h.findTask(c.Request.Context(), userID, taskID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) ToggleTask(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	taskID := c.Param("id")
	current, err := h.findTask(c.Request.Context(), userID, taskID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := h.gateway.ToggleCompletion(c.Request.Context(), userID, taskID, current.Completed); err != nil {
		h.writeError(c, err)
		return
	}

	task, err := h.findTask(c.Request.Context(), userID, taskID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	if err := h.gateway.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StreamTasks sends the caller's full task list as a server-sent event after every change.
func (h *TaskHandler) StreamTasks(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	path, err := store.TasksPath(userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// latest snapshot wins; a slow client skips intermediate lists
	updates := make(chan []models.Task, 1)
	failures := make(chan error, 1)
	unsubscribe := h.store.Subscribe(path, func(s store.Snapshot) {
		tasks := todo.TasksFromSnapshot(s)
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- tasks:
		default:
		}
	}, func(err error) {
		select {
		case failures <- err:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case tasks := <-updates:
			c.SSEvent("tasks", tasks)
			return true
		case err := <-failures:
			h.logger.Printf("[api] task stream for %s failed: %v", userID, err)
			c.SSEvent("error", gin.H{"error": todo.Message(err)})
			return false
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}
