package tui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"task-tracker/internal/client"
)

type fakeAPI struct {
	lists   []client.ListParams
	created []string
	updates map[int64]client.TaskInput
	deleted []int64
	page    *client.TaskPage
	listErr error
}

func newFakeAPI(tasks ...client.Task) *fakeAPI {
	return &fakeAPI{
		updates: map[int64]client.TaskInput{},
		page:    &client.TaskPage{Tasks: tasks, Total: int64(len(tasks)), Page: 1, TotalPages: 3},
	}
}

func (f *fakeAPI) ListTasks(ctx context.Context, params client.ListParams) (*client.TaskPage, error) {
	f.lists = append(f.lists, params)
	if f.listErr != nil {
		return nil, f.listErr
	}
	page := *f.page
	page.Page = params.Page
	return &page, nil
}

func (f *fakeAPI) CreateTask(ctx context.Context, input client.TaskInput) (*client.Task, error) {
	f.created = append(f.created, *input.Title)
	return &client.Task{ID: 99, Title: *input.Title, Status: "Pending"}, nil
}

func (f *fakeAPI) UpdateTask(ctx context.Context, id int64, input client.TaskInput) (*client.Task, error) {
	f.updates[id] = input
	return &client.Task{ID: id}, nil
}

func (f *fakeAPI) DeleteTask(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

// loaded runs cmd and feeds its message back, as the runtime would.
func loaded(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	m, _ = press(t, m, cmd())
	return m
}

func sampleTasks() []client.Task {
	return []client.Task{
		{ID: 1, Title: "first", Status: "Pending"},
		{ID: 2, Title: "second", Status: "In Progress"},
	}
}

func TestInitFetchesFirstPage(t *testing.T) {
	api := newFakeAPI(sampleTasks()...)
	m := New(context.Background(), api, nil)
	m = loaded(t, m, m.Init())

	if len(api.lists) != 1 {
		t.Fatalf("list calls = %d", len(api.lists))
	}
	got := api.lists[0]
	if got.Page != 1 || got.Limit != PageSize || got.Status != client.StatusAll || got.Search != "" {
		t.Fatalf("params = %+v", got)
	}
	if len(m.tasks) != 2 || m.loading {
		t.Fatalf("tasks = %+v loading=%v", m.tasks, m.loading)
	}
	if !strings.Contains(m.View(), "second") {
		t.Fatalf("view missing task:\n%s", m.View())
	}
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	m := New(context.Background(), api, nil)

	stale := m.fetch()
	fresh := m.fetch()

	api.page = &client.TaskPage{Tasks: []client.Task{{ID: 7, Title: "stale"}}, Total: 1, TotalPages: 1}
	staleMsg := stale()
	api.page = &client.TaskPage{Tasks: []client.Task{{ID: 8, Title: "fresh"}}, Total: 1, TotalPages: 1}
	freshMsg := fresh()

	m, _ = press(t, m, freshMsg)
	m, _ = press(t, m, staleMsg)
	if len(m.tasks) != 1 || m.tasks[0].Title != "fresh" {
		t.Fatalf("tasks = %+v", m.tasks)
	}
}

func TestSearchIsDebounced(t *testing.T) {
	api := newFakeAPI(sampleTasks()...)
	m := New(context.Background(), api, nil)
	m = loaded(t, m, m.Init())
	m.page = 2

	m, _ = press(t, m, runes("/"))
	if m.mode != modeSearch {
		t.Fatalf("mode = %v", m.mode)
	}
	m, _ = press(t, m, runes("a"))
	firstRev := m.searchRev
	m, _ = press(t, m, runes("b"))

	m, cmd := press(t, m, searchTickMsg{rev: firstRev})
	if cmd != nil || len(api.lists) != 1 {
		t.Fatalf("stale tick triggered a fetch")
	}

	m, cmd = press(t, m, searchTickMsg{rev: m.searchRev})
	m = loaded(t, m, cmd)
	last := api.lists[len(api.lists)-1]
	if last.Search != "ab" || last.Page != 1 {
		t.Fatalf("params = %+v", last)
	}
	if m.page != 1 {
		t.Fatalf("page = %d, want reset to 1", m.page)
	}
}

func TestStatusFilterCyclesAndResetsPage(t *testing.T) {
	api := newFakeAPI(sampleTasks()...)
	m := New(context.Background(), api, nil)
	m = loaded(t, m, m.Init())

	m, cmd := press(t, m, runes("n"))
	m = loaded(t, m, cmd)
	if m.page != 2 {
		t.Fatalf("page = %d", m.page)
	}

	want := []string{"Pending", "In Progress", "Completed", client.StatusAll}
	for _, status := range want {
		m, cmd = press(t, m, runes("s"))
		m = loaded(t, m, cmd)
		last := api.lists[len(api.lists)-1]
		if last.Status != status || last.Page != 1 {
			t.Fatalf("params = %+v, want status %q page 1", last, status)
		}
	}
}

func TestPagingStopsAtBounds(t *testing.T) {
	api := newFakeAPI(sampleTasks()...)
	m := New(context.Background(), api, nil)
	m = loaded(t, m, m.Init())

	if _, cmd := press(t, m, runes("p")); cmd != nil {
		t.Fatalf("prev on first page fetched")
	}
	m.page = m.totalPages
	if _, cmd := press(t, m, runes("n")); cmd != nil {
		t.Fatalf("next on last page fetched")
	}
}

func TestAddTask(t *testing.T) {
	api := newFakeAPI(sampleTasks()...)
	m := New(context.Background(), api, nil)
	m = loaded(t, m, m.Init())

	m, _ = press(t, m, runes("a"))
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.errMsg != "Title cannot be empty" || m.mode != modeAdd {
		t.Fatalf("blank add: err=%q mode=%v", m.errMsg, m.mode)
	}

	m, _ = press(t, m, runes("  Buy milk "))
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, cmd = press(t, m, cmd())
	if len(api.created) != 1 || api.created[0] != "Buy milk" {
		t.Fatalf("created = %v", api.created)
	}
	m = loaded(t, m, cmd)
	if m.notice != "added #99" || m.mode != modeList {
		t.Fatalf("notice = %q mode = %v", m.notice, m.mode)
	}
}

func TestToggleCyclesStatus(t *testing.T) {
	api := newFakeAPI(sampleTasks()...)
	m := New(context.Background(), api, nil)
	m = loaded(t, m, m.Init())

	m, _ = press(t, m, runes("j"))
	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})
	cmd()
	got, ok := api.updates[2]
	if !ok || got.Status == nil || *got.Status != "Completed" {
		t.Fatalf("updates = %+v", api.updates)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	api := newFakeAPI(sampleTasks()...)
	m := New(context.Background(), api, nil)
	m = loaded(t, m, m.Init())

	m, _ = press(t, m, runes("d"))
	m, cmd := press(t, m, runes("n"))
	if cmd != nil || len(api.deleted) != 0 || m.mode != modeList {
		t.Fatalf("cancelled delete still ran")
	}

	m, _ = press(t, m, runes("d"))
	if !strings.Contains(m.View(), "Delete #1?") {
		t.Fatalf("missing prompt:\n%s", m.View())
	}
	_, cmd = press(t, m, runes("y"))
	cmd()
	if len(api.deleted) != 1 || api.deleted[0] != 1 {
		t.Fatalf("deleted = %v", api.deleted)
	}
}

func TestUnauthorizedEndsProgram(t *testing.T) {
	api := newFakeAPI()
	api.listErr = &client.APIError{Status: http.StatusUnauthorized, Message: "Not authorized, token failed"}
	check := func(err error) error {
		if client.IsUnauthorized(err) {
			return client.ErrSessionExpired
		}
		return err
	}
	m := New(context.Background(), api, check)

	m, cmd := press(t, m, m.Init()())
	if !errors.Is(m.quitErr, client.ErrSessionExpired) {
		t.Fatalf("quitErr = %v", m.quitErr)
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestOtherErrorsAreShown(t *testing.T) {
	api := newFakeAPI()
	api.listErr = &client.APIError{Message: "Failed to fetch tasks", Err: fmt.Errorf("dial tcp: refused")}
	m := New(context.Background(), api, nil)

	m, cmd := press(t, m, m.Init()())
	if cmd != nil || m.errMsg != "Failed to fetch tasks" {
		t.Fatalf("errMsg = %q", m.errMsg)
	}
	if !strings.Contains(m.View(), "Failed to fetch tasks") {
		t.Fatalf("error not rendered")
	}
}

func TestEmptyPageAfterDeleteStepsBack(t *testing.T) {
	api := newFakeAPI()
	api.page = &client.TaskPage{Tasks: []client.Task{}, Total: 5, TotalPages: 1}
	m := New(context.Background(), api, nil)
	m.page = 2

	m, cmd := press(t, m, m.fetch()())
	if m.page != 1 || cmd == nil {
		t.Fatalf("page = %d", m.page)
	}
}
