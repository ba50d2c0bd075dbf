package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"task-tracker/internal/client"
	"task-tracker/internal/ui"
)

const (
	PageSize       = 5
	SearchDebounce = 400 * time.Millisecond
)

// API is the subset of the REST client the view needs.
type API interface {
	ListTasks(ctx context.Context, params client.ListParams) (*client.TaskPage, error)
	CreateTask(ctx context.Context, input client.TaskInput) (*client.Task, error)
	UpdateTask(ctx context.Context, id int64, input client.TaskInput) (*client.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

type mode int

const (
	modeList mode = iota
	modeSearch
	modeAdd
	modeEdit
	modeConfirmDelete
)

var statusFilters = append([]string{client.StatusAll}, client.Statuses...)

type keyMap struct {
	Up, Down, Next, Prev, Search, Filter, Add, Edit, Toggle, Delete, Refresh, Quit key.Binding
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Next:    key.NewBinding(key.WithKeys("n", "right"), key.WithHelp("n", "next page")),
	Prev:    key.NewBinding(key.WithKeys("p", "left"), key.WithHelp("p", "prev page")),
	Search:  key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	Filter:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "status filter")),
	Add:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	Edit:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	Toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "cycle status")),
	Delete:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tasksLoadedMsg struct {
	gen  uint64
	page *client.TaskPage
	err  error
}

type searchTickMsg struct {
	rev int
}

type taskChangedMsg struct {
	notice string
	err    error
}

// Model is the interactive task list.
type Model struct {
	ctx   context.Context
	api   API
	check func(error) error
	seq   *client.Sequencer

	tasks      []client.Task
	cursor     int
	page       int
	totalPages int
	total      int64
	filter     int
	search     string
	loading    bool

	mode      mode
	searchIn  textinput.Model
	searchRev int
	input     textinput.Model
	editID    int64
	deleteID  int64

	notice  string
	errMsg  string
	quitErr error
}

// New builds the model. check is applied to every API error and may turn a
// 401 into client.ErrSessionExpired, which ends the program.
func New(ctx context.Context, api API, check func(error) error) Model {
	if check == nil {
		check = func(err error) error { return err }
	}
	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "search title or description"
	search.CharLimit = 100

	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 200

	return Model{
		ctx:        ctx,
		api:        api,
		check:      check,
		seq:        &client.Sequencer{},
		page:       1,
		totalPages: 1,
		loading:    true,
		searchIn:   search,
		input:      input,
	}
}

// Run starts the program in the alternate screen and returns why it ended.
func Run(ctx context.Context, sess *client.Session) error {
	m := New(ctx, sess.Client(), sess.Check)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if fm, ok := final.(Model); ok {
		return fm.quitErr
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return m.fetch()
}

func (m Model) params() client.ListParams {
	return client.ListParams{
		Page:   m.page,
		Limit:  PageSize,
		Search: m.search,
		Status: statusFilters[m.filter],
	}
}

// fetch starts a new generation; older in-flight results are dropped on arrival.
func (m Model) fetch() tea.Cmd {
	gen := m.seq.Next()
	params := m.params()
	ctx, api := m.ctx, m.api
	return func() tea.Msg {
		page, err := api.ListTasks(ctx, params)
		return tasksLoadedMsg{gen: gen, page: page, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tasksLoadedMsg:
		return m.onLoaded(msg)

	case searchTickMsg:
		if msg.rev != m.searchRev {
			return m, nil
		}
		return m.applySearch(m.searchIn.Value())

	case taskChangedMsg:
		if msg.err != nil {
			return m.onError(msg.err)
		}
		m.notice = msg.notice
		m.loading = true
		return m, m.fetch()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modeSearch:
			return m.updateSearch(msg)
		case modeAdd, modeEdit:
			return m.updateInput(msg)
		case modeConfirmDelete:
			return m.updateConfirm(msg)
		default:
			return m.updateList(msg)
		}
	}
	return m, nil
}

func (m Model) onLoaded(msg tasksLoadedMsg) (tea.Model, tea.Cmd) {
	if !m.seq.IsCurrent(msg.gen) {
		return m, nil
	}
	m.loading = false
	if msg.err != nil {
		return m.onError(msg.err)
	}

	m.errMsg = ""
	m.tasks = msg.page.Tasks
	m.total = msg.page.Total
	m.totalPages = max(msg.page.TotalPages, 1)
	if len(m.tasks) == 0 && m.page > m.totalPages {
		// the last task on this page was removed
		m.page = m.totalPages
		m.loading = true
		return m, m.fetch()
	}
	if m.cursor >= len(m.tasks) {
		m.cursor = max(len(m.tasks)-1, 0)
	}
	return m, nil
}

func (m Model) onError(err error) (tea.Model, tea.Cmd) {
	err = m.check(err)
	if errors.Is(err, client.ErrSessionExpired) {
		m.quitErr = err
		return m, tea.Quit
	}
	m.errMsg = err.Error()
	return m, nil
}

func (m Model) applySearch(query string) (tea.Model, tea.Cmd) {
	query = strings.TrimSpace(query)
	if query == m.search {
		return m, nil
	}
	m.search = query
	m.page = 1
	m.cursor = 0
	m.loading = true
	return m, m.fetch()
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.mode = modeList
		m.searchIn.Blur()
		m.searchRev++
		return m.applySearch(m.searchIn.Value())
	case "esc":
		m.mode = modeList
		m.searchIn.Blur()
		m.searchIn.SetValue("")
		m.searchRev++
		return m.applySearch("")
	}

	before := m.searchIn.Value()
	var cmd tea.Cmd
	m.searchIn, cmd = m.searchIn.Update(msg)
	if m.searchIn.Value() == before {
		return m, cmd
	}
	m.searchRev++
	rev := m.searchRev
	tick := tea.Tick(SearchDebounce, func(time.Time) tea.Msg { return searchTickMsg{rev: rev} })
	return m, tea.Batch(cmd, tick)
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeList
		m.input.Blur()
		m.input.SetValue("")
		m.errMsg = ""
		return m, nil
	case "enter":
		title := strings.TrimSpace(m.input.Value())
		if title == "" {
			m.errMsg = "Title cannot be empty"
			return m, nil
		}
		editing, id := m.mode == modeEdit, m.editID
		m.mode = modeList
		m.input.Blur()
		m.input.SetValue("")
		m.errMsg = ""
		ctx, api := m.ctx, m.api
		if editing {
			return m, func() tea.Msg {
				task, err := api.UpdateTask(ctx, id, client.TaskInput{Title: &title})
				if err != nil {
					return taskChangedMsg{err: err}
				}
				return taskChangedMsg{notice: fmt.Sprintf("renamed #%d", task.ID)}
			}
		}
		// new tasks sort first, so jump back to page 1
		m.page = 1
		m.cursor = 0
		return m, func() tea.Msg {
			task, err := api.CreateTask(ctx, client.TaskInput{Title: &title})
			if err != nil {
				return taskChangedMsg{err: err}
			}
			return taskChangedMsg{notice: fmt.Sprintf("added #%d", task.ID)}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.mode = modeList
	if msg.String() != "y" {
		m.notice = "delete cancelled"
		return m, nil
	}
	id := m.deleteID
	ctx, api := m.ctx, m.api
	return m, func() tea.Msg {
		if err := api.DeleteTask(ctx, id); err != nil {
			return taskChangedMsg{err: err}
		}
		return taskChangedMsg{notice: fmt.Sprintf("deleted #%d", id)}
	}
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""
	switch {
	case key.Matches(msg, keys.Quit), msg.String() == "esc":
		return m, tea.Quit

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.tasks)-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.Next):
		if m.page < m.totalPages {
			m.page++
			m.cursor = 0
			m.loading = true
			return m, m.fetch()
		}
	case key.Matches(msg, keys.Prev):
		if m.page > 1 {
			m.page--
			m.cursor = 0
			m.loading = true
			return m, m.fetch()
		}
	case key.Matches(msg, keys.Refresh):
		m.loading = true
		return m, m.fetch()

	case key.Matches(msg, keys.Search):
		m.mode = modeSearch
		m.searchIn.SetValue(m.search)
		return m, m.searchIn.Focus()
	case key.Matches(msg, keys.Filter):
		m.filter = (m.filter + 1) % len(statusFilters)
		m.page = 1
		m.cursor = 0
		m.loading = true
		return m, m.fetch()

	case key.Matches(msg, keys.Add):
		m.mode = modeAdd
		m.input.Placeholder = "New task title..."
		m.input.SetValue("")
		return m, m.input.Focus()
	case key.Matches(msg, keys.Edit):
		task, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.mode = modeEdit
		m.editID = task.ID
		m.input.Placeholder = ""
		m.input.SetValue(task.Title)
		m.input.CursorEnd()
		return m, m.input.Focus()
	case key.Matches(msg, keys.Toggle):
		task, ok := m.selected()
		if !ok {
			return m, nil
		}
		next := client.NextStatus(task.Status)
		ctx, api := m.ctx, m.api
		return m, func() tea.Msg {
			if _, err := api.UpdateTask(ctx, task.ID, client.TaskInput{Status: &next}); err != nil {
				return taskChangedMsg{err: err}
			}
			return taskChangedMsg{notice: fmt.Sprintf("#%d is now %s", task.ID, next)}
		}
	case key.Matches(msg, keys.Delete):
		task, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.mode = modeConfirmDelete
		m.deleteID = task.ID
	}
	return m, nil
}

func (m Model) selected() (client.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return client.Task{}, false
	}
	return m.tasks[m.cursor], true
}

func (m Model) View() string {
	var b strings.Builder

	header := fmt.Sprintf("%s   %s %d  %s  %s %s",
		ui.TitleStyle.Render("Tasks"),
		ui.AccentStyle.Render("Total"), m.total,
		ui.MutedStyle.Render(fmt.Sprintf("page %d/%d", m.page, m.totalPages)),
		ui.MutedStyle.Render("status:"), statusFilters[m.filter],
	)
	if m.search != "" {
		header += "  " + ui.MutedStyle.Render("search:") + " " + m.search
	}
	b.WriteString(header + "\n\n")

	if len(m.tasks) == 0 {
		if m.loading {
			b.WriteString(ui.MutedStyle.Render("  loading...") + "\n")
		} else {
			b.WriteString(ui.MutedStyle.Render("  no tasks") + "\n")
		}
	}
	for i, t := range m.tasks {
		prefix := "  "
		if i == m.cursor {
			prefix = ui.SelectedStyle.Render("> ")
		}
		title := t.Title
		if t.Status == "Completed" {
			title = ui.DoneStyle.Render(title)
		}
		fmt.Fprintf(&b, "%s%s %s\n", prefix, ui.Status(t.Status), title)
	}
	b.WriteString("\n")

	switch m.mode {
	case modeSearch:
		b.WriteString(m.searchIn.View() + "\n")
	case modeAdd, modeEdit:
		b.WriteString(m.input.View() + "\n")
		b.WriteString(ui.HelpStyle.Render("enter save • esc cancel") + "\n")
	case modeConfirmDelete:
		b.WriteString(ui.ErrorStyle.Render(fmt.Sprintf("Delete #%d? (y/N)", m.deleteID)) + "\n")
	default:
		b.WriteString(ui.HelpStyle.Render(helpLine()) + "\n")
	}

	if m.errMsg != "" {
		b.WriteString(ui.ErrorStyle.Render("✖ "+m.errMsg) + "\n")
	} else if m.notice != "" {
		b.WriteString(ui.SuccessStyle.Render("✔ "+m.notice) + "\n")
	}
	return b.String()
}

func helpLine() string {
	bindings := []key.Binding{keys.Up, keys.Down, keys.Next, keys.Prev, keys.Search, keys.Filter,
		keys.Add, keys.Edit, keys.Toggle, keys.Delete, keys.Refresh, keys.Quit}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}
