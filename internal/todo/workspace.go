package todo

import (
	"context"
	"log"
	"sync"
	"time"

	"todo-task/backend/internal/auth"
	"todo-task/backend/internal/models"
	"todo-task/backend/internal/store"
)

// Event is sent to watchers of a workspace. Redirect is set when the client must leave
// the current page.
type Event struct {
	Redirect string
}

// Screen is everything needed to render one view.
type Screen struct {
	View         View
	Title        string
	SignedIn     bool
	UserID       string
	Email        string
	Page         Page
	EmptyMessage string
	State        ViewState
	Priorities   []string
	Selected     *models.Task
}

// Workspace is the view-model of one browser client.
type Workspace struct {
	id      string
	client  *auth.Client
	gate    *SessionGate
	feed    *TaskFeed
	gateway *Gateway
	sizes   PageSizes
	logger  *log.Logger

	mu       sync.Mutex
	state    ViewState
	lastSeen time.Time
	closed   bool

	watchMu   sync.Mutex
	watchers  map[int]chan Event
	nextWatch int
	stopFeed  func()
}

func NewWorkspace(id string, provider auth.Provider, s store.Store, sizes PageSizes, logger *log.Logger) *Workspace {
	if logger == nil {
		logger = log.Default()
	}
	if sizes == nil {
		sizes = DefaultPageSizes()
	}

	w := &Workspace{
		id:       id,
		client:   auth.NewClient(provider, logger),
		feed:     NewTaskFeed(s, logger),
		gateway:  NewGateway(s, logger),
		sizes:    sizes,
		logger:   logger,
		state:    NewViewState(),
		lastSeen: time.Now(),
		watchers: make(map[int]chan Event),
	}
	w.stopFeed = w.feed.OnChange(func([]models.Task) { w.broadcast(Event{}) })
	w.gate = NewSessionGate(w.client, w.navigate, w.feed.SetUser)
	return w
}

func (w *Workspace) ID() string {
	return w.id
}

func (w *Workspace) navigate(route string) {
	w.broadcast(Event{Redirect: route})
}

func (w *Workspace) broadcast(e Event) {
	w.watchMu.Lock()
	defer w.watchMu.Unlock()
	for _, ch := range w.watchers {
		select {
		case ch <- e:
		default:
			// a pending redraw already covers this one, but redirects must get through
			if e.Redirect != "" {
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- e:
				default:
				}
			}
		}
	}
}

// Watch returns a channel that receives an event after every change to the task list
// and on sign-out. The returned function stops the watch.
func (w *Workspace) Watch() (<-chan Event, func()) {
	ch := make(chan Event, 1)

	w.watchMu.Lock()
	id := w.nextWatch
	w.nextWatch++
	w.watchers[id] = ch
	w.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.watchMu.Lock()
			delete(w.watchers, id)
			w.watchMu.Unlock()
		})
	}
}

func (w *Workspace) Watching() int {
	w.watchMu.Lock()
	defer w.watchMu.Unlock()
	return len(w.watchers)
}

func (w *Workspace) Touch() {
	w.mu.Lock()
	w.lastSeen = time.Now()
	w.mu.Unlock()
}

func (w *Workspace) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Workspace) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

func (w *Workspace) Session() *auth.Session {
	return w.client.Session()
}

func (w *Workspace) SignedIn() bool {
	return w.gate.UserID() != ""
}

// CheckSession refreshes an expired session, signing the client out if that fails.
func (w *Workspace) CheckSession(ctx context.Context) {
	w.client.CheckExpiry(ctx)
}

func (w *Workspace) Tasks() []models.Task {
	return w.feed.Tasks()
}

func (w *Workspace) State() ViewState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.clone()
}

// Render derives the current page of view. An out of range page is clamped and kept.
func (w *Workspace) Render(view View) Screen {
	tasks := w.feed.Tasks()

	w.mu.Lock()
	defer w.mu.Unlock()

	derived := Derive(view, tasks, w.state.Filters)
	size := w.sizes.For(view)
	page := ClampPage(w.state.Page(view), len(derived), size)
	w.state.SetPage(view, page)

	screen := Screen{
		View:         view,
		Title:        view.Title(),
		Page:         Paginate(derived, page, size),
		EmptyMessage: view.EmptyMessage(),
		State:        w.state.clone(),
		Priorities:   models.Priorities,
	}
	if session := w.client.Session(); session != nil {
		screen.SignedIn = true
		screen.UserID = session.UserID
		screen.Email = session.Email
	}
	if id := w.state.SelectedTaskID; id != "" {
		for i := range tasks {
			if tasks[i].ID == id {
				t := tasks[i]
				screen.Selected = &t
				break
			}
		}
	}
	return screen
}

func (w *Workspace) update(fn func(s *ViewState)) {
	w.mu.Lock()
	fn(&w.state)
	w.mu.Unlock()
}

func (w *Workspace) SetFilters(f Filters) {
	w.update(func(s *ViewState) { s.SetFilters(f) })
}

func (w *Workspace) SetSearch(q string) {
	w.update(func(s *ViewState) { s.SetSearch(q) })
}

func (w *Workspace) SetDate(date string) {
	w.update(func(s *ViewState) { s.SetDate(date) })
}

func (w *Workspace) SetPriority(priority string) {
	w.update(func(s *ViewState) { s.SetPriority(priority) })
}

func (w *Workspace) SetPage(view View, page int) {
	w.update(func(s *ViewState) { s.SetPage(view, page) })
}

func (w *Workspace) OpenAdd() {
	w.update(func(s *ViewState) { s.OpenAdd() })
}

func (w *Workspace) CloseAdd() {
	w.update(func(s *ViewState) { s.ClearAdd() })
}

func (w *Workspace) Select(taskID string) {
	w.update(func(s *ViewState) { s.SelectedTaskID = taskID })
}

func (w *Workspace) ClearSelection() {
	w.update(func(s *ViewState) { s.SelectedTaskID = "" })
}

func (w *Workspace) CancelEdit() {
	w.update(func(s *ViewState) { s.ClearEdit() })
}

func (w *Workspace) ClearMessage() {
	w.update(func(s *ViewState) { s.Message = "" })
}

func (w *Workspace) StartEdit(taskID string) error {
	task, ok := w.feed.Find(taskID)
	if !ok {
		return w.fail(ErrTaskNotFound)
	}
	w.update(func(s *ViewState) { s.StartEdit(task) })
	return nil
}

func (w *Workspace) fail(err error) error {
	w.update(func(s *ViewState) { s.Message = Message(err) })
	return err
}

// SubmitAdd creates a task. On success the add buffer is cleared and the form closed;
// on failure the input is kept for another try.
func (w *Workspace) SubmitAdd(ctx context.Context, in TaskInput) (string, error) {
	w.update(func(s *ViewState) {
		s.Add = AddBuffer{Open: true, Text: in.Text, Description: in.Description, DueDate: in.DueDate, Priority: in.Priority}
	})

	key, err := w.gateway.Create(ctx, w.gate.UserID(), in)
	if err != nil {
		return "", w.fail(err)
	}
	w.update(func(s *ViewState) {
		s.ClearAdd()
		s.Message = ""
	})
	return key, nil
}

// SubmitEdit saves the task currently being edited.
func (w *Workspace) SubmitEdit(ctx context.Context, taskID string, in TaskInput) error {
	w.update(func(s *ViewState) {
		s.Edit = EditBuffer{TaskID: taskID, Text: in.Text, Description: in.Description, DueDate: in.DueDate, Priority: in.Priority}
	})

	if err := w.gateway.Edit(ctx, w.gate.UserID(), taskID, in); err != nil {
		return w.fail(err)
	}
	w.update(func(s *ViewState) {
		s.ClearEdit()
		s.Message = ""
	})
	return nil
}

// Toggle flips completion based on the last known state of the task.
func (w *Workspace) Toggle(ctx context.Context, taskID string) error {
	task, ok := w.feed.Find(taskID)
	if !ok {
		return w.fail(ErrTaskNotFound)
	}
	if err := w.gateway.ToggleCompletion(ctx, w.gate.UserID(), taskID, task.Completed); err != nil {
		return w.fail(err)
	}
	return nil
}

func (w *Workspace) Delete(ctx context.Context, taskID string) error {
	if err := w.gateway.Delete(ctx, w.gate.UserID(), taskID); err != nil {
		return w.fail(err)
	}
	w.update(func(s *ViewState) {
		if s.SelectedTaskID == taskID {
			s.SelectedTaskID = ""
		}
		if s.Edit.TaskID == taskID {
			s.ClearEdit()
		}
	})
	return nil
}

func (w *Workspace) SignIn(ctx context.Context, email, password string) error {
	if err := w.client.SignIn(ctx, email, password); err != nil {
		w.update(func(s *ViewState) { s.Message = auth.Message(err) })
		return err
	}
	w.ClearMessage()
	return nil
}

func (w *Workspace) Register(ctx context.Context, reg auth.Registration) error {
	if err := w.client.Register(ctx, reg); err != nil {
		w.update(func(s *ViewState) { s.Message = auth.Message(err) })
		return err
	}
	w.ClearMessage()
	return nil
}

// SignOut ends the session and forgets everything the user typed or selected.
func (w *Workspace) SignOut(ctx context.Context) error {
	err := w.client.SignOut(ctx)
	w.update(func(s *ViewState) { *s = NewViewState() })
	return err
}

func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.gate.Close()
	w.stopFeed()
	w.feed.Close()

	w.watchMu.Lock()
	for id, ch := range w.watchers {
		close(ch)
		delete(w.watchers, id)
	}
	w.watchMu.Unlock()
}
