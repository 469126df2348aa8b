package handlers

import (
	"bytes"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"todo-task/backend/internal/auth"
	"todo-task/backend/internal/middleware"
	"todo-task/backend/internal/todo"
	"todo-task/backend/internal/web"

	"github.com/gin-gonic/gin"
)

// WebHandler serves the browser pages. Each browser is tied to a workspace through the
// client id cookie.
type WebHandler struct {
	registry  *todo.Registry
	templates *template.Template
	keepAlive time.Duration
	logger    *log.Logger
}

func NewWebHandler(registry *todo.Registry, templates *template.Template, logger *log.Logger) *WebHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &WebHandler{
		registry:  registry,
		templates: templates,
		keepAlive: 15 * time.Second,
		logger:    logger,
	}
}

func (h *WebHandler) workspace(c *gin.Context) *todo.Workspace {
	ws := h.registry.Get(middleware.ClientID(c))
	ws.CheckSession(c.Request.Context())
	return ws
}

// takeMessage returns the pending message once.
func takeMessage(ws *todo.Workspace) string {
	msg := ws.State().Message
	if msg != "" {
		ws.ClearMessage()
	}
	return msg
}

func returnPath(c *gin.Context) string {
	if view, ok := todo.ParseView(trimSlash(c.Query("return"))); ok {
		return web.ViewPath(view)
	}
	return web.ViewPath(todo.ViewHome)
}

func trimSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// Welcome shows the sign-in and register forms, or sends a signed-in client home.
func (h *WebHandler) Welcome(c *gin.Context) {
	ws := h.workspace(c)
	if ws.SignedIn() {
		c.Redirect(http.StatusFound, web.ViewPath(todo.ViewHome))
		return
	}

	c.HTML(http.StatusOK, "welcome", web.PageData{
		Title:   "Welcome",
		Message: takeMessage(ws),
		Mode:    c.Query("mode"),
	})
}

// View renders one task view after applying the UI actions carried in the query string.
func (h *WebHandler) View(view todo.View) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := h.workspace(c)
		if !ws.SignedIn() {
			c.Redirect(http.StatusFound, todo.SignInRoute)
			return
		}

		h.applyQuery(c, ws, view)

		screen := ws.Render(view)
		c.HTML(http.StatusOK, "view", web.PageData{
			Title:   screen.Title,
			Message: takeMessage(ws),
			Screen:  screen,
		})
	}
}

func (h *WebHandler) applyQuery(c *gin.Context, ws *todo.Workspace, view todo.View) {
	if q, ok := c.GetQuery("q"); ok {
		ws.SetSearch(q)
	}
	if date, ok := c.GetQuery("date"); ok && view == todo.ViewFilter {
		ws.SetDate(date)
	}
	if priority, ok := c.GetQuery("priority"); ok && view == todo.ViewLabel {
		ws.SetPriority(priority)
	}
	if raw, ok := c.GetQuery("page"); ok {
		if page, err := strconv.Atoi(raw); err == nil {
			ws.SetPage(view, page)
		}
	}

	switch c.Query("add") {
	case "open":
		ws.OpenAdd()
	case "close":
		ws.CloseAdd()
	}

	if id := c.Query("edit"); id != "" {
		_ = ws.StartEdit(id)
	}
	if c.Query("cancel") == "edit" {
		ws.CancelEdit()
	}

	if id, ok := c.GetQuery("task"); ok {
		if id == "" {
			ws.ClearSelection()
		} else {
			ws.Select(id)
		}
	}
}

func (h *WebHandler) NotFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, "notfound", web.PageData{
		Title: "Not found",
		Path:  c.Request.URL.Path,
	})
}

func (h *WebHandler) SignIn(c *gin.Context) {
	ws := h.workspace(c)
	if err := ws.SignIn(c.Request.Context(), c.PostForm("email"), c.PostForm("password")); err != nil {
		c.Redirect(http.StatusSeeOther, todo.SignInRoute)
		return
	}
	c.Redirect(http.StatusSeeOther, web.ViewPath(todo.ViewHome))
}

func (h *WebHandler) Register(c *gin.Context) {
	ws := h.workspace(c)
	reg := auth.Registration{
		Email:           c.PostForm("email"),
		ConfirmEmail:    c.PostForm("confirmEmail"),
		Password:        c.PostForm("password"),
		ConfirmPassword: c.PostForm("confirmPassword"),
	}
	if err := ws.Register(c.Request.Context(), reg); err != nil {
		c.Redirect(http.StatusSeeOther, todo.SignInRoute+"?mode=register")
		return
	}
	c.Redirect(http.StatusSeeOther, web.ViewPath(todo.ViewHome))
}

func (h *WebHandler) SignOut(c *gin.Context) {
	ws := h.workspace(c)
	if err := ws.SignOut(c.Request.Context()); err != nil {
		h.logger.Printf("[web] sign out of %s: %v", ws.ID(), err)
	}
	c.Redirect(http.StatusSeeOther, todo.SignInRoute)
}

// signedIn sends clients without a session back to the welcome page.
func (h *WebHandler) signedIn(c *gin.Context) (*todo.Workspace, bool) {
	ws := h.workspace(c)
	if !ws.SignedIn() {
		c.Redirect(http.StatusSeeOther, todo.SignInRoute)
		return nil, false
	}
	return ws, true
}

func (h *WebHandler) AddTask(c *gin.Context) {
	ws, ok := h.signedIn(c)
	if !ok {
		return
	}

	var input todo.TaskInput
	if err := c.ShouldBind(&input); err != nil {
		c.Redirect(http.StatusSeeOther, returnPath(c))
		return
	}
	// failures are kept in the workspace message and add buffer
	_, _ = ws.SubmitAdd(c.Request.Context(), input)
	c.Redirect(http.StatusSeeOther, returnPath(c))
}

func (h *WebHandler) EditTask(c *gin.Context) {
	ws, ok := h.signedIn(c)
	if !ok {
		return
	}

	var input todo.TaskInput
	if err := c.ShouldBind(&input); err != nil {
		c.Redirect(http.StatusSeeOther, returnPath(c))
		return
	}
	_ = ws.SubmitEdit(c.Request.Context(), c.Param("id"), input)
	c.Redirect(http.StatusSeeOther, returnPath(c))
}

func (h *WebHandler) ToggleTask(c *gin.Context) {
	ws, ok := h.signedIn(c)
	if !ok {
		return
	}
	_ = ws.Toggle(c.Request.Context(), c.Param("id"))
	c.Redirect(http.StatusSeeOther, returnPath(c))
}

func (h *WebHandler) DeleteTask(c *gin.Context) {
	ws, ok := h.signedIn(c)
	if !ok {
		return
	}
	_ = ws.Delete(c.Request.Context(), c.Param("id"))
	c.Redirect(http.StatusSeeOther, returnPath(c))
}

func (h *WebHandler) fragment(ws *todo.Workspace, view todo.View) (string, error) {
	var buf bytes.Buffer
	err := h.templates.ExecuteTemplate(&buf, "task-list", web.PageData{Screen: ws.Render(view)})
	return buf.String(), err
}

// Events streams the re-rendered task list of a view on every change, and a redirect
// event when the client is signed out.
func (h *WebHandler) Events(c *gin.Context) {
	view, ok := todo.ParseView(c.Param("view"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown view"})
		return
	}

	ws := h.workspace(c)
	events, stop := ws.Watch()
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	if !ws.SignedIn() {
		c.SSEvent("redirect", todo.SignInRoute)
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			return h.sendList(c, ws, view)
		}

		select {
		case <-c.Request.Context().Done():
			return false
		case e, open := <-events:
			if !open {
				return false
			}
			ws.Touch()
			if e.Redirect != "" {
				c.SSEvent("redirect", e.Redirect)
				return false
			}
			return h.sendList(c, ws, view)
		case <-ticker.C:
			ws.Touch()
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

func (h *WebHandler) sendList(c *gin.Context, ws *todo.Workspace, view todo.View) bool {
	html, err := h.fragment(ws, view)
	if err != nil {
		h.logger.Printf("[web] rendering %s for %s: %v", view, ws.ID(), err)
		return false
	}
	c.SSEvent("tasks", html)
	return true
}
