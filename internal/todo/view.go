package todo

import (
	"sort"
	"strings"
	"time"

	"todo-task/backend/internal/models"
)

type View string

const (
	ViewHome      View = "home"
	ViewUpcoming  View = "upcoming"
	ViewFilter    View = "filter"
	ViewCompleted View = "completed"
	ViewLabel     View = "label"
)

var Views = []View{ViewHome, ViewUpcoming, ViewFilter, ViewCompleted, ViewLabel}

func ParseView(s string) (View, bool) {
	for _, v := range Views {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

func (v View) Title() string {
	switch v {
	case ViewUpcoming:
		return "Upcoming"
	case ViewFilter:
		return "Filter by Date"
	case ViewCompleted:
		return "Completed Tasks"
	case ViewLabel:
		return "Tasks by Priority"
	default:
		return "Inbox"
	}
}

// EmptyMessage is shown instead of the list when the derived list is empty.
func (v View) EmptyMessage() string {
	switch v {
	case ViewUpcoming:
		return "No upcoming tasks"
	case ViewCompleted:
		return "No completed tasks"
	default:
		return "No tasks available"
	}
}

// PageSizes holds the number of tasks per page for each view.
type PageSizes map[View]int

func DefaultPageSizes() PageSizes {
	return PageSizes{
		ViewHome:      4,
		ViewUpcoming:  5,
		ViewFilter:    5,
		ViewCompleted: 4,
		ViewLabel:     5,
	}
}

func (p PageSizes) For(v View) int {
	if size := p[v]; size > 0 {
		return size
	}
	return DefaultPageSizes()[v]
}

// Upcoming keeps tasks with a due date, earliest first. Due dates that do not parse sort
// after all valid ones. Equal dates keep their input order.
func Upcoming(tasks []models.Task) []models.Task {
	type dated struct {
		task models.Task
		at   time.Time
		ok   bool
	}

	kept := make([]dated, 0, len(tasks))
	for _, t := range tasks {
		if !t.HasDueDate() {
			continue
		}
		at, ok := models.ParseTime(t.DueDate)
		kept = append(kept, dated{task: t, at: at, ok: ok})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.ok != b.ok {
			return a.ok
		}
		return a.ok && a.at.Before(b.at)
	})

	out := make([]models.Task, len(kept))
	for i, d := range kept {
		out[i] = d.task
	}
	return out
}

// FilterByDate keeps tasks due on the given calendar day. An empty date keeps everything.
func FilterByDate(tasks []models.Task, date string) []models.Task {
	if strings.TrimSpace(date) == "" {
		return tasks
	}
	want, ok := models.DayOf(date)
	if !ok {
		want = strings.TrimSpace(date)
	}

	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if day, ok := models.DayOf(t.DueDate); ok && day == want {
			out = append(out, t)
		}
	}
	return out
}

// FilterByPriority keeps tasks with the given label. "All" or empty keeps everything.
func FilterByPriority(tasks []models.Task, priority string) []models.Task {
	if priority == "" || priority == models.PriorityAll {
		return tasks
	}

	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Priority == priority {
			out = append(out, t)
		}
	}
	return out
}

// Completed keeps completed tasks, most recently completed first. A missing or unparsable
// completion date counts as the earliest possible instant.
func Completed(tasks []models.Task) []models.Task {
	type done struct {
		task models.Task
		at   time.Time
	}

	kept := make([]done, 0, len(tasks))
	for _, t := range tasks {
		if !t.Completed {
			continue
		}
		at, _ := models.ParseTime(t.CompletedDate)
		kept = append(kept, done{task: t, at: at})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].at.After(kept[j].at)
	})

	out := make([]models.Task, len(kept))
	for i, d := range kept {
		out[i] = d.task
	}
	return out
}

// Search keeps tasks whose text contains query, ignoring case. An empty query returns
// tasks unchanged.
func Search(tasks []models.Task, query string) []models.Task {
	if query == "" {
		return tasks
	}
	needle := strings.ToLower(query)

	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Text), needle) {
			out = append(out, t)
		}
	}
	return out
}

type Page struct {
	Number      int           `json:"page"`
	Size        int           `json:"page_size"`
	Total       int           `json:"total"`
	TotalPages  int           `json:"total_pages"`
	Items       []models.Task `json:"items"`
	HasPrev     bool          `json:"has_prev"`
	HasNext     bool          `json:"has_next"`
	PageNumbers []int         `json:"page_numbers"`
}

func TotalPages(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	pages := total / size
	if total%size != 0 {
		pages++
	}
	return pages
}

// ClampPage limits page to [1, max(1, totalPages)].
func ClampPage(page, total, size int) int {
	last := TotalPages(total, size)
	if last < 1 {
		last = 1
	}
	if page < 1 {
		return 1
	}
	if page > last {
		return last
	}
	return page
}

// Paginate returns the 1-based page of tasks. Pages past the end are empty.
func Paginate(tasks []models.Task, page, size int) Page {
	if size < 1 {
		size = 1
	}
	if page < 1 {
		page = 1
	}

	total := len(tasks)
	totalPages := TotalPages(total, size)

	items := []models.Task{}
	if page <= totalPages {
		start := (page - 1) * size
		end := total
		if total-start > size {
			end = start + size
		}
		items = make([]models.Task, end-start)
		copy(items, tasks[start:end])
	}

	numbers := make([]int, totalPages)
	for i := range numbers {
		numbers[i] = i + 1
	}

	return Page{
		Number:      page,
		Size:        size,
		Total:       total,
		TotalPages:  totalPages,
		Items:       items,
		HasPrev:     page > 1,
		HasNext:     page < totalPages,
		PageNumbers: numbers,
	}
}

// Filters are the user's current list filters.
type Filters struct {
	Search   string `form:"q" json:"search"`
	Date     string `form:"date" json:"date"`
	Priority string `form:"priority" json:"priority"`
}

// Derive applies the pipeline of view to tasks. The search query applies in every view.
func Derive(view View, tasks []models.Task, f Filters) []models.Task {
	switch view {
	case ViewUpcoming:
		tasks = Upcoming(tasks)
	case ViewFilter:
		tasks = FilterByDate(Upcoming(tasks), f.Date)
	case ViewCompleted:
		tasks = Completed(tasks)
	case ViewLabel:
		tasks = FilterByPriority(tasks, f.Priority)
	}
	return Search(tasks, f.Search)
}
