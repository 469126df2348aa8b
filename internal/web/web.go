// Package web holds the HTML templates of the browser interface.
package web

import (
	"embed"
	"html/template"
	"strings"

	"todo-task/backend/internal/models"
	"todo-task/backend/internal/todo"
)

//go:embed templates/*.html
var files embed.FS

// NavItem is one sidebar link.
type NavItem struct {
	Label string
	Path  string
	View  todo.View
}

var Nav = []NavItem{
	{Label: "Inbox", Path: "/home", View: todo.ViewHome},
	{Label: "Upcoming", Path: "/upcoming", View: todo.ViewUpcoming},
	{Label: "Completed", Path: "/completed", View: todo.ViewCompleted},
	{Label: "Filter", Path: "/filter", View: todo.ViewFilter},
	{Label: "Label", Path: "/label", View: todo.ViewLabel},
}

func ViewPath(v todo.View) string {
	return "/" + string(v)
}

// DueLabel formats a due date for display, or returns "" when there is none.
func DueLabel(t models.Task) string {
	if !t.HasDueDate() {
		return ""
	}
	if parsed, ok := models.ParseTime(t.DueDate); ok {
		return parsed.Format("Mon, Jan 2 2006")
	}
	return t.DueDate
}

// DateValue returns the yyyy-mm-dd form of a stored date for use in date inputs.
func DateValue(s string) string {
	if day, ok := models.DayOf(s); ok {
		return day
	}
	return ""
}

var funcs = template.FuncMap{
	"viewPath":  ViewPath,
	"dueLabel":  DueLabel,
	"dateValue": DateValue,
	"add":       func(a, b int) int { return a + b },
	"sub":       func(a, b int) int { return a - b },
	"lower":     strings.ToLower,
	"nav":       func() []NavItem { return Nav },
}

// Templates parses every embedded template.
func Templates() (*template.Template, error) {
	return template.New("web").Funcs(funcs).ParseFS(files, "templates/*.html")
}

// PageData is passed to every page template.
type PageData struct {
	Title   string
	Message string
	Mode    string
	Email   string
	Path    string
	Screen  todo.Screen
}
