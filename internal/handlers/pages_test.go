package handlers

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"todo-task/backend/internal/auth"
	"todo-task/backend/internal/database"
	"todo-task/backend/internal/middleware"
	"todo-task/backend/internal/store"
	"todo-task/backend/internal/todo"
	"todo-task/backend/internal/web"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// streamRecorder is a ResponseRecorder that can be read while a handler is streaming.
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu     sync.Mutex
	closed chan bool
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
}

func (r *streamRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *streamRecorder) WriteString(s string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.WriteString(s)
}

func (r *streamRecorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.WriteHeader(code)
}

func (r *streamRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.Flush()
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

type webFixture struct {
	registry *todo.Registry
	router   *gin.Engine
}

func setupWeb(t *testing.T) *webFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	quiet := log.New(io.Discard, "", 0)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	accounts := auth.NewService(db, auth.Config{JWTSecret: "test", Issuer: "todo-task", BCryptCost: bcrypt.MinCost}, quiet)
	st, err := store.NewSQLStore(db, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := todo.NewRegistry(func(id string) *todo.Workspace {
		return todo.NewWorkspace(id, accounts, st, nil, quiet)
	}, time.Minute, quiet)
	t.Cleanup(registry.Close)

	templates, err := web.Templates()
	require.NoError(t, err)

	h := NewWebHandler(registry, templates, quiet)
	h.keepAlive = 20 * time.Millisecond

	router := gin.New()
	router.SetHTMLTemplate(templates)
	router.Use(middleware.ClientIDMiddleware(false))
	router.GET("/", h.Welcome)
	for _, view := range todo.Views {
		router.GET("/"+string(view), h.View(view))
	}
	router.GET("/events/:view", h.Events)
	router.POST("/tasks/:id/toggle", h.ToggleTask)
	router.NoRoute(h.NotFound)

	return &webFixture{registry: registry, router: router}
}

func (f *webFixture) signedIn(t *testing.T) (string, *todo.Workspace) {
	t.Helper()
	id := uuid.Must(uuid.NewV4()).String()
	ws := f.registry.Get(id)
	require.NoError(t, ws.Register(context.Background(), auth.Registration{
		Email:           "ann@example.com",
		ConfirmEmail:    "ann@example.com",
		Password:        "secret1",
		ConfirmPassword: "secret1",
	}))
	return id, ws
}

func (f *webFixture) get(id, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.AddCookie(&http.Cookie{Name: middleware.ClientCookie, Value: id})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestEvents_StreamsListChanges(t *testing.T) {
	f := setupWeb(t)
	id, ws := f.signedIn(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events/home", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: middleware.ClientCookie, Value: id})
	rec := newStreamRecorder()

	done := make(chan struct{})
	go func() {
		f.router.ServeHTTP(rec, req)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "No tasks available")
	}, 2*time.Second, 10*time.Millisecond)

	_, err := ws.SubmitAdd(context.Background(), todo.TaskInput{Text: "Buy milk"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "Buy milk")
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "ping")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, ws.Watching())
}

func TestEvents_RedirectOnSignOut(t *testing.T) {
	f := setupWeb(t)
	id, ws := f.signedIn(t)

	req := httptest.NewRequest(http.MethodGet, "/events/upcoming", nil)
	req.AddCookie(&http.Cookie{Name: middleware.ClientCookie, Value: id})
	rec := newStreamRecorder()

	done := make(chan struct{})
	go func() {
		f.router.ServeHTTP(rec, req)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "No upcoming tasks")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.SignOut(context.Background()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after sign out")
	}
	assert.Contains(t, rec.body(), "redirect")
}

func TestEvents_SignedOutClient(t *testing.T) {
	f := setupWeb(t)
	id := uuid.Must(uuid.NewV4()).String()

	req := httptest.NewRequest(http.MethodGet, "/events/home", nil)
	req.AddCookie(&http.Cookie{Name: middleware.ClientCookie, Value: id})
	rec := newStreamRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Contains(t, rec.body(), "redirect")
}

func TestEvents_UnknownView(t *testing.T) {
	f := setupWeb(t)
	id, _ := f.signedIn(t)

	w := f.get(id, "/events/nowhere")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestView_QueryActions(t *testing.T) {
	f := setupWeb(t)
	id, ws := f.signedIn(t)
	ctx := context.Background()

	for _, text := range []string{"One", "Two", "Three", "Four", "Five", "Six"} {
		_, err := ws.SubmitAdd(ctx, todo.TaskInput{Text: text, DueDate: "2024-05-01", Priority: "Priority 1"})
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return len(ws.Tasks()) == 6 }, 2*time.Second, 10*time.Millisecond)

	w := f.get(id, "/upcoming?page=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Six")
	assert.NotContains(t, w.Body.String(), ">One<")

	// page is remembered per view
	w = f.get(id, "/upcoming")
	assert.Contains(t, w.Body.String(), "Six")

	// changing a filter starts over at page one
	w = f.get(id, "/upcoming?q=o")
	assert.Contains(t, w.Body.String(), "One")

	w = f.get(id, "/label?priority=Priority+2")
	assert.Contains(t, w.Body.String(), "No tasks available")

	taskID := ws.Tasks()[0].ID
	w = f.get(id, "/upcoming?q=&task="+taskID)
	assert.Contains(t, w.Body.String(), "No description provided")

	w = f.get(id, "/upcoming?task=")
	assert.NotContains(t, w.Body.String(), "No description provided")

	w = f.get(id, "/home?edit="+taskID)
	assert.Contains(t, w.Body.String(), "/tasks/"+taskID+"/edit")
	assert.Equal(t, taskID, ws.State().Edit.TaskID)

	w = f.get(id, "/home?cancel=edit")
	assert.False(t, ws.State().Edit.Active())

	w = f.get(id, "/home?add=open")
	assert.Contains(t, w.Body.String(), `action="/tasks?return=/home"`)
}

func TestToggleTask_RedirectsToReturnView(t *testing.T) {
	f := setupWeb(t)
	id, ws := f.signedIn(t)

	taskID, err := ws.SubmitAdd(context.Background(), todo.TaskInput{Text: "Buy milk"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(ws.Tasks()) == 1 }, 2*time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/tasks/"+taskID+"/toggle?return=/completed", nil)
	req.AddCookie(&http.Cookie{Name: middleware.ClientCookie, Value: id})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/completed", w.Header().Get("Location"))

	assert.Eventually(t, func() bool {
		tasks := ws.Tasks()
		return len(tasks) == 1 && tasks[0].Completed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReturnPath(t *testing.T) {
	tests := []struct {
		query    string
		expected string
	}{
		{"", "/home"},
		{"return=/completed", "/completed"},
		{"return=label", "/label"},
		{"return=https://evil.example.com", "/home"},
		{"return=//evil.example.com", "/home"},
	}

	gin.SetMode(gin.TestMode)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodPost, "/tasks?"+tt.query, nil)
			assert.Equal(t, tt.expected, returnPath(c))
		})
	}
}

func TestNotFound(t *testing.T) {
	f := setupWeb(t)

	w := f.get(uuid.Must(uuid.NewV4()).String(), "/does/not/exist")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "/does/not/exist")
}
