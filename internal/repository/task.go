package repository

import (
	"context"

	"task-tracker/internal/domain"
)

// TaskRepository exposes persistence operations for Task records.
//
// The *Owned methods match on id AND owner in a single operation and return a
// not-found error when nothing matched; callers use Exists to tell a foreign
// task apart from a missing one.
type TaskRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, task *domain.Task) (int64, error)
	Exists(ctx context.Context, id int64) (bool, error)
	GetOwned(ctx context.Context, id, ownerID int64) (*domain.Task, error)
	UpdateOwned(ctx context.Context, id, ownerID int64, patch domain.TaskPatch) (*domain.Task, error)
	DeleteOwned(ctx context.Context, id, ownerID int64) error
	// List returns at most limit tasks starting at offset, plus the total match
	// count. An offset at or past the total yields an empty slice.
	List(ctx context.Context, ownerID int64, filter domain.TaskFilter, offset int64, limit int) ([]domain.Task, int64, error)
	ListAll(ctx context.Context, ownerID int64) ([]domain.Task, error)
}
