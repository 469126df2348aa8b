package todo

import (
	"log"
	"sync"

	"todo-task/backend/internal/models"
	"todo-task/backend/internal/store"
)

type TasksFunc func([]models.Task)

// TaskFeed keeps one live subscription to the current user's task collection and
// publishes every converted snapshot to its observers.
type TaskFeed struct {
	store  store.Store
	logger *log.Logger

	mu          sync.Mutex
	userID      string
	unsubscribe store.Unsubscribe
	generation  uint64
	tasks       []models.Task
	observers   map[int]TasksFunc
	nextID      int
	closed      bool

	// serialises publication so observers see lists in order
	publishMu sync.Mutex
}

func NewTaskFeed(s store.Store, logger *log.Logger) *TaskFeed {
	if logger == nil {
		logger = log.Default()
	}
	return &TaskFeed{
		store:     s,
		logger:    logger,
		tasks:     []models.Task{},
		observers: make(map[int]TasksFunc),
	}
}

// SetUser points the feed at userID's tasks. The previous subscription is released before
// the new one is opened. An empty userID publishes an empty list.
func (f *TaskFeed) SetUser(userID string) {
	f.mu.Lock()
	if f.closed || (userID == f.userID && (userID == "" || f.unsubscribe != nil)) {
		f.mu.Unlock()
		return
	}
	previous := f.unsubscribe
	f.unsubscribe = nil
	f.userID = userID
	f.generation++
	gen := f.generation
	f.mu.Unlock()

	if previous != nil {
		previous()
	}

	if userID == "" {
		f.publish(gen, []models.Task{})
		return
	}

	path, err := store.TasksPath(userID)
	if err != nil {
		f.logger.Printf("[todo] cannot subscribe to tasks of %q: %v", userID, err)
		f.publish(gen, []models.Task{})
		return
	}

	unsubscribe := f.store.Subscribe(path,
		func(snapshot store.Snapshot) {
			f.publish(gen, TasksFromSnapshot(snapshot))
		},
		func(err error) {
			f.fail(gen, err)
		},
	)

	f.mu.Lock()
	if f.generation == gen && !f.closed {
		f.unsubscribe = unsubscribe
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	unsubscribe()
}

func (f *TaskFeed) publish(gen uint64, tasks []models.Task) {
	f.publishMu.Lock()
	defer f.publishMu.Unlock()

	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		return
	}
	f.tasks = tasks
	observers := make([]TasksFunc, 0, len(f.observers))
	for _, fn := range f.observers {
		observers = append(observers, fn)
	}
	f.mu.Unlock()

	for _, fn := range observers {
		fn(tasks)
	}
}

// fail keeps the last known list in place.
func (f *TaskFeed) fail(gen uint64, err error) {
	f.mu.Lock()
	stale := gen != f.generation
	userID := f.userID
	f.mu.Unlock()

	if !stale {
		f.logger.Printf("[todo] error fetching tasks for %s: %v", userID, err)
	}
}

func (f *TaskFeed) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

// Tasks returns the last published list. Callers must not modify it.
func (f *TaskFeed) Tasks() []models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks
}

// Find returns the task with the given id from the last published list.
func (f *TaskFeed) Find(id string) (models.Task, bool) {
	for _, t := range f.Tasks() {
		if t.ID == id {
			return t, true
		}
	}
	return models.Task{}, false
}

// OnChange registers fn for every published list.
func (f *TaskFeed) OnChange(fn TasksFunc) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.observers[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

// Close releases the subscription. Later deliveries are dropped.
func (f *TaskFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.generation++
	previous := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()

	if previous != nil {
		previous()
	}
}
