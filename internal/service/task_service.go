package service

import (
	"context"
	"math"
	"strings"

	"task-tracker/internal/domain"
	"task-tracker/internal/repository"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 50
)

// ListQuery is a raw listing request. Zero Page/Limit select the defaults.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
	Status string
}

// TaskPage is one window of an owner's tasks.
type TaskPage struct {
	Tasks      []domain.Task
	Total      int64
	Page       int
	Limit      int
	TotalPages int
	HasMore    bool
}

// CreateTaskInput carries the fields accepted on creation.
type CreateTaskInput struct {
	Title       string
	Description string
	Status      domain.TaskStatus
}

// TaskService enforces per-user ownership over task operations.
type TaskService interface {
	ListTasks(ctx context.Context, ownerID int64, query ListQuery) (*TaskPage, error)
	GetTask(ctx context.Context, ownerID, id int64) (*domain.Task, error)
	CreateTask(ctx context.Context, ownerID int64, input CreateTaskInput) (*domain.Task, error)
	UpdateTask(ctx context.Context, ownerID, id int64, patch domain.TaskPatch) (*domain.Task, error)
	DeleteTask(ctx context.Context, ownerID, id int64) error
	ExportTasks(ctx context.Context, ownerID int64) ([]domain.Task, error)
}

type taskService struct {
	tasks repository.TaskRepository
}

func NewTaskService(tasks repository.TaskRepository) TaskService {
	return &taskService{tasks: tasks}
}

func (s *taskService) ListTasks(ctx context.Context, ownerID int64, query ListQuery) (*TaskPage, error) {
	page, limit := ClampPage(query.Page, query.Limit)

	filter := domain.TaskFilter{Search: strings.TrimSpace(query.Search)}
	// unknown statuses are ignored rather than rejected
	if status := domain.TaskStatus(query.Status); status.Valid() {
		filter.Status = status
	}

	offset := pageOffset(page, limit)
	tasks, total, err := s.tasks.List(ctx, ownerID, filter, offset, limit)
	if err != nil {
		return nil, err
	}

	return &TaskPage{
		Tasks:      tasks,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: TotalPages(total, limit),
		HasMore:    offset+int64(len(tasks)) < total,
	}, nil
}

func (s *taskService) GetTask(ctx context.Context, ownerID, id int64) (*domain.Task, error) {
	task, err := s.tasks.GetOwned(ctx, id, ownerID)
	if err != nil {
		return nil, s.classify(ctx, id, err, "Not authorized to access this task")
	}
	return task, nil
}

func (s *taskService) CreateTask(ctx context.Context, ownerID int64, input CreateTaskInput) (*domain.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domain.Validationf("Title is required")
	}
	status := input.Status
	if status == "" {
		status = domain.TaskStatusPending
	}
	if !status.Valid() {
		return nil, invalidStatus(status)
	}

	task := &domain.Task{
		OwnerID:     ownerID,
		Title:       title,
		Description: input.Description,
		Status:      status,
	}
	if _, err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *taskService) UpdateTask(ctx context.Context, ownerID, id int64, patch domain.TaskPatch) (*domain.Task, error) {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, domain.Validationf("Title cannot be empty")
		}
		patch.Title = &title
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, invalidStatus(*patch.Status)
	}

	task, err := s.tasks.UpdateOwned(ctx, id, ownerID, patch)
	if err != nil {
		return nil, s.classify(ctx, id, err, "Not authorized to update this task")
	}
	return task, nil
}

func (s *taskService) DeleteTask(ctx context.Context, ownerID, id int64) error {
	if err := s.tasks.DeleteOwned(ctx, id, ownerID); err != nil {
		return s.classify(ctx, id, err, "Not authorized to delete this task")
	}
	return nil
}

func (s *taskService) ExportTasks(ctx context.Context, ownerID int64) ([]domain.Task, error) {
	return s.tasks.ListAll(ctx, ownerID)
}

// classify maps a miss on an owned operation to 403 when the task exists under
// another owner, and to 404 otherwise.
func (s *taskService) classify(ctx context.Context, id int64, err error, forbidden string) error {
	if !domain.IsNotFound(err) {
		return err
	}
	exists, probeErr := s.tasks.Exists(ctx, id)
	if probeErr != nil {
		return probeErr
	}
	if exists {
		return domain.Forbiddenf("%s", forbidden)
	}
	return domain.ErrTaskNotFound
}

func invalidStatus(status domain.TaskStatus) error {
	return domain.Validationf("status must be one of Pending, In Progress, Completed (got %q)", string(status))
}

// ClampPage applies the listing defaults: page >= 1, limit in [1, MaxPageLimit],
// and a zero limit selects DefaultPageLimit.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit == 0:
		limit = DefaultPageLimit
	case limit < 1:
		limit = 1
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	return page, limit
}

// pageOffset is (page-1)*limit for a clamped page and limit, saturating at
// math.MaxInt64 instead of wrapping.
func pageOffset(page, limit int) int64 {
	skip := int64(page - 1)
	if skip > math.MaxInt64/int64(limit) {
		return math.MaxInt64
	}
	return skip * int64(limit)
}

// TotalPages is ceil(total/limit) with a floor of 1.
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 1
	}
	pages := int((total + int64(limit) - 1) / int64(limit))
	if pages < 1 {
		return 1
	}
	return pages
}
