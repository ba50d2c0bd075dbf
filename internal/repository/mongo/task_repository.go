package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"task-tracker/internal/domain"
	"task-tracker/internal/repository"
)

const tasksCollection = "tasks"

type taskDocument struct {
	ID          int64     `bson:"_id"`
	UserID      int64     `bson:"user_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d taskDocument) toDomain() domain.Task {
	return domain.Task{
		ID:          d.ID,
		OwnerID:     d.UserID,
		Title:       d.Title,
		Description: d.Description,
		Status:      domain.TaskStatus(d.Status),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

type TaskRepository struct {
	db    *mongo.Database
	tasks *mongo.Collection
}

func NewTaskRepository(db *mongo.Database) repository.TaskRepository {
	return &TaskRepository{db: db, tasks: db.Collection(tasksCollection)}
}

func (r *TaskRepository) Init(ctx context.Context) error {
	_, err := r.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create tasks owner index: %w", err)
	}
	return nil
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) (int64, error) {
	id, err := nextID(ctx, r.db, tasksCollection)
	if err != nil {
		return 0, err
	}
	ts := now()

	doc := taskDocument{
		ID:          id,
		UserID:      task.OwnerID,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if _, err := r.tasks.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	task.ID = id
	task.CreatedAt = ts
	task.UpdatedAt = ts
	return id, nil
}

func (r *TaskRepository) Exists(ctx context.Context, id int64) (bool, error) {
	n, err := r.tasks.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("probe task: %w", err)
	}
	return n > 0, nil
}

func (r *TaskRepository) GetOwned(ctx context.Context, id, ownerID int64) (*domain.Task, error) {
	return r.findOne(ctx, bson.M{"_id": id, "user_id": ownerID})
}

func (r *TaskRepository) UpdateOwned(ctx context.Context, id, ownerID int64, patch domain.TaskPatch) (*domain.Task, error) {
	if patch.Empty() {
		return r.GetOwned(ctx, id, ownerID)
	}

	set := bson.M{"updated_at": now()}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}

	var doc taskDocument
	err := r.tasks.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id, "user_id": ownerID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	task := doc.toDomain()
	return &task, nil
}

func (r *TaskRepository) DeleteOwned(ctx context.Context, id, ownerID int64) error {
	res, err := r.tasks.DeleteOne(ctx, bson.M{"_id": id, "user_id": ownerID})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) List(ctx context.Context, ownerID int64, filter domain.TaskFilter, offset int64, limit int) ([]domain.Task, int64, error) {
	query := bson.M{"user_id": ownerID}
	if filter.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		query["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"description": pattern},
		}
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	total, err := r.tasks.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	if offset >= total {
		return []domain.Task{}, total, nil
	}

	opts := options.Find().
		SetSort(newestFirst).
		SetSkip(offset).
		SetLimit(int64(limit))
	tasks, err := r.find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r *TaskRepository) ListAll(ctx context.Context, ownerID int64) ([]domain.Task, error) {
	return r.find(ctx, bson.M{"user_id": ownerID}, options.Find().SetSort(newestFirst))
}

func (r *TaskRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]domain.Task, error) {
	cur, err := r.tasks.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer cur.Close(ctx)

	tasks := []domain.Task{}
	for cur.Next(ctx) {
		var doc taskDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) findOne(ctx context.Context, filter bson.M) (*domain.Task, error) {
	var doc taskDocument
	if err := r.tasks.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("find task: %w", err)
	}
	task := doc.toDomain()
	return &task, nil
}
