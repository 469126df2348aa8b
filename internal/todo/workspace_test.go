package todo

import (
	"context"
	"testing"
	"time"

	"todo-task/backend/internal/auth"
	"todo-task/backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) (*Workspace, *memStore) {
	s := newMemStore()
	w := NewWorkspace("client-1", fakeProvider{}, s, nil, nil)
	t.Cleanup(w.Close)
	return w, s
}

func TestSessionGate(t *testing.T) {
	client := auth.NewClient(fakeProvider{}, nil)

	var routes, users []string
	gate := NewSessionGate(client,
		func(route string) { routes = append(routes, route) },
		func(userID string) { users = append(users, userID) },
	)

	assert.Equal(t, []string{"/"}, routes)
	assert.Equal(t, []string{""}, users)

	require.NoError(t, client.SignIn(context.Background(), "a@x.com", "pw"))
	assert.Equal(t, "uid-a@x_com", gate.UserID())

	gate.Close()
	require.NoError(t, client.SignOut(context.Background()))
	assert.Equal(t, []string{"/"}, routes)
	assert.Equal(t, []string{"", "uid-a@x_com"}, users)
}

func TestWorkspace_SignOutSignInResubscribes(t *testing.T) {
	w, s := newTestWorkspace(t)
	ctx := context.Background()

	_, err := s.Push(ctx, "tasks/uid-b@x_com", store.Record{"text": "b's task"})
	require.NoError(t, err)

	require.NoError(t, w.SignIn(ctx, "a@x.com", "pw"))
	_, err = w.SubmitAdd(ctx, TaskInput{Text: "a's task"})
	require.NoError(t, err)
	require.Len(t, w.Tasks(), 1)

	events, stop := w.Watch()
	defer stop()

	require.NoError(t, w.SignOut(ctx))
	assert.False(t, w.SignedIn())
	assert.Empty(t, w.Tasks())
	assert.Equal(t, 0, s.activeSubscriptions())

	select {
	case e := <-events:
		assert.Equal(t, "/", e.Redirect)
	case <-time.After(time.Second):
		t.Fatal("expected redirect event")
	}

	require.NoError(t, w.SignIn(ctx, "b@x.com", "pw"))
	tasks := w.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "b's task", tasks[0].Text)
	assert.Equal(t, 1, s.activeSubscriptions())
}

func TestWorkspace_AddClearsBufferOnlyOnSuccess(t *testing.T) {
	w, _ := newTestWorkspace(t)
	ctx := context.Background()

	w.OpenAdd()
	_, err := w.SubmitAdd(ctx, TaskInput{Text: "draft"})
	assert.ErrorIs(t, err, ErrNoUser)
	state := w.State()
	assert.True(t, state.Add.Open)
	assert.Equal(t, "draft", state.Add.Text)
	assert.Equal(t, "Please sign in first.", state.Message)

	require.NoError(t, w.SignIn(ctx, "a@x.com", "pw"))
	_, err = w.SubmitAdd(ctx, TaskInput{Text: "draft"})
	require.NoError(t, err)

	state = w.State()
	assert.False(t, state.Add.Open)
	assert.Empty(t, state.Add.Text)
	assert.Empty(t, state.Message)
}

func TestWorkspace_EditFlow(t *testing.T) {
	w, _ := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, w.SignIn(ctx, "a@x.com", "pw"))

	key, err := w.SubmitAdd(ctx, TaskInput{Text: "old", DueDate: "2024-05-01"})
	require.NoError(t, err)

	require.NoError(t, w.StartEdit(key))
	assert.Equal(t, "old", w.State().Edit.Text)

	assert.ErrorIs(t, w.SubmitEdit(ctx, key, TaskInput{Text: ""}), ErrEmptyText)
	assert.True(t, w.State().Edit.Active())

	require.NoError(t, w.SubmitEdit(ctx, key, TaskInput{Text: "new", DueDate: "2024-05-03"}))
	assert.False(t, w.State().Edit.Active())

	task, ok := w.feed.Find(key)
	require.True(t, ok)
	assert.Equal(t, "new", task.Text)
	assert.Equal(t, "2024-05-03", task.DueDate)

	assert.ErrorIs(t, w.StartEdit("missing"), ErrTaskNotFound)
}

func TestWorkspace_ToggleAndRender(t *testing.T) {
	w, _ := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, w.SignIn(ctx, "a@x.com", "pw"))

	key, err := w.SubmitAdd(ctx, TaskInput{Text: "finish me"})
	require.NoError(t, err)

	screen := w.Render(ViewCompleted)
	assert.Empty(t, screen.Page.Items)
	assert.Equal(t, "No completed tasks", screen.EmptyMessage)

	require.NoError(t, w.Toggle(ctx, key))
	screen = w.Render(ViewCompleted)
	require.Len(t, screen.Page.Items, 1)
	assert.True(t, screen.SignedIn)
	assert.Equal(t, "a@x.com", screen.Email)

	require.NoError(t, w.Toggle(ctx, key))
	assert.Empty(t, w.Render(ViewCompleted).Page.Items)

	assert.ErrorIs(t, w.Toggle(ctx, "missing"), ErrTaskNotFound)
}

func TestWorkspace_FiltersResetPage(t *testing.T) {
	w, _ := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, w.SignIn(ctx, "a@x.com", "pw"))

	for i := 0; i < 9; i++ {
		_, err := w.SubmitAdd(ctx, TaskInput{Text: "task"})
		require.NoError(t, err)
	}

	w.SetPage(ViewHome, 3)
	screen := w.Render(ViewHome)
	assert.Equal(t, 3, screen.Page.Number)
	assert.Len(t, screen.Page.Items, 1)

	w.SetSearch("task")
	assert.Equal(t, 1, w.Render(ViewHome).Page.Number)

	w.SetPage(ViewHome, 99)
	assert.Equal(t, 3, w.Render(ViewHome).Page.Number)
}

func TestWorkspace_SelectAndDelete(t *testing.T) {
	w, _ := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, w.SignIn(ctx, "a@x.com", "pw"))

	key, err := w.SubmitAdd(ctx, TaskInput{Text: "detail", DueDate: "2024-07-01"})
	require.NoError(t, err)

	w.Select(key)
	screen := w.Render(ViewUpcoming)
	require.NotNil(t, screen.Selected)
	assert.Equal(t, "detail", screen.Selected.Text)

	require.NoError(t, w.Delete(ctx, key))
	assert.Nil(t, w.Render(ViewUpcoming).Selected)
	assert.Empty(t, w.State().SelectedTaskID)
}

func TestWorkspace_SignInFailureMessage(t *testing.T) {
	w, _ := newTestWorkspace(t)

	err := w.SignIn(context.Background(), "a@x.com", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Equal(t, "Invalid email or password.", w.State().Message)

	err = w.Register(context.Background(), auth.Registration{Email: "a@x.com"})
	assert.ErrorIs(t, err, auth.ErrMissingFields)
	assert.Equal(t, "Please fill in all fields.", w.State().Message)
}

func TestWorkspace_WatchReceivesTaskChanges(t *testing.T) {
	w, _ := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, w.SignIn(ctx, "a@x.com", "pw"))

	events, stop := w.Watch()
	assert.Equal(t, 1, w.Watching())

	_, err := w.SubmitAdd(ctx, TaskInput{Text: "ping"})
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Empty(t, e.Redirect)
	case <-time.After(time.Second):
		t.Fatal("expected change event")
	}

	stop()
	stop()
	assert.Equal(t, 0, w.Watching())
}

func TestRegistry(t *testing.T) {
	s := newMemStore()
	created := 0
	r := NewRegistry(func(id string) *Workspace {
		created++
		return NewWorkspace(id, fakeProvider{}, s, nil, nil)
	}, time.Minute, nil)
	defer r.Close()

	a := r.Get("a")
	assert.Same(t, a, r.Get("a"))
	r.Get("b")
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, r.Len())

	require.NoError(t, a.SignIn(context.Background(), "a@x.com", "pw"))
	assert.Equal(t, 1, s.activeSubscriptions())

	_, stop := r.Get("b").Watch()
	defer stop()

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, r.Sweep())

	_, ok := r.Lookup("a")
	assert.False(t, ok)
	_, ok = r.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, 0, s.activeSubscriptions())
}

func TestRegistry_GetKeepsWorkspaceOpen(t *testing.T) {
	s := newMemStore()
	r := NewRegistry(func(id string) *Workspace {
		return NewWorkspace(id, fakeProvider{}, s, nil, nil)
	}, time.Minute, nil)
	defer r.Close()

	a := r.Get("a")
	a.mu.Lock()
	a.lastSeen = time.Now().Add(-time.Hour)
	a.mu.Unlock()

	// a request arriving after a long idle period refreshes the workspace first
	assert.Same(t, a, r.Get("a"))
	assert.Equal(t, 0, r.Sweep())
	assert.False(t, a.Closed())

	// a workspace closed behind the registry's back is replaced, never handed out
	a.Close()
	b := r.Get("a")
	assert.NotSame(t, a, b)
	assert.False(t, b.Closed())
	assert.Equal(t, 1, r.Len())
}
