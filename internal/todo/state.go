package todo

import "todo-task/backend/internal/models"

type AddBuffer struct {
	Open        bool   `json:"open"`
	Text        string `json:"text"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
	Priority    string `json:"priority"`
}

type EditBuffer struct {
	TaskID      string `json:"taskId"`
	Text        string `json:"text"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
	Priority    string `json:"priority"`
}

func (e EditBuffer) Active() bool {
	return e.TaskID != ""
}

// ViewState is everything the user has typed or selected that is not stored remotely.
type ViewState struct {
	Pages          map[View]int `json:"pages"`
	Filters        Filters      `json:"filters"`
	SelectedTaskID string       `json:"selectedTaskId"`
	Add            AddBuffer    `json:"add"`
	Edit           EditBuffer   `json:"edit"`
	Message        string       `json:"message"`
}

func NewViewState() ViewState {
	return ViewState{
		Pages:   make(map[View]int),
		Filters: Filters{Priority: models.PriorityAll},
	}
}

func (s *ViewState) Page(v View) int {
	if p := s.Pages[v]; p > 0 {
		return p
	}
	return 1
}

func (s *ViewState) SetPage(v View, page int) {
	if page < 1 {
		page = 1
	}
	if s.Pages == nil {
		s.Pages = make(map[View]int)
	}
	s.Pages[v] = page
}

func (s *ViewState) resetPages() {
	s.Pages = make(map[View]int)
}

func (s *ViewState) SetSearch(q string) {
	if q != s.Filters.Search {
		s.Filters.Search = q
		s.resetPages()
	}
}

func (s *ViewState) SetDate(date string) {
	if date != s.Filters.Date {
		s.Filters.Date = date
		s.resetPages()
	}
}

func (s *ViewState) SetPriority(priority string) {
	if priority == "" {
		priority = models.PriorityAll
	}
	if priority != s.Filters.Priority {
		s.Filters.Priority = priority
		s.resetPages()
	}
}

// SetFilters applies all three filters, resetting pages if any changed.
func (s *ViewState) SetFilters(f Filters) {
	s.SetSearch(f.Search)
	s.SetDate(f.Date)
	s.SetPriority(f.Priority)
}

func (s *ViewState) OpenAdd() {
	s.Add.Open = true
}

func (s *ViewState) ClearAdd() {
	s.Add = AddBuffer{}
}

func (s *ViewState) StartEdit(t models.Task) {
	s.Edit = EditBuffer{
		TaskID:      t.ID,
		Text:        t.Text,
		Description: t.Description,
		DueDate:     t.DueDate,
		Priority:    t.Priority,
	}
}

func (s *ViewState) ClearEdit() {
	s.Edit = EditBuffer{}
}

func (s ViewState) clone() ViewState {
	pages := make(map[View]int, len(s.Pages))
	for k, v := range s.Pages {
		pages[k] = v
	}
	s.Pages = pages
	return s
}
