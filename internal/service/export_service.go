package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"task-tracker/internal/domain"
	"task-tracker/internal/storage"
)

const exportURLExpiry = 15 * time.Minute

// ErrExportDisabled is returned when no bucket is configured.
var ErrExportDisabled = errors.New("export storage not configured")

// Export describes one uploaded snapshot.
type Export struct {
	Location string
	Key      string
	Count    int
}

// ExportObject is a stored snapshot as listed back to its owner.
type ExportObject struct {
	Key          string
	Size         int64
	LastModified *time.Time
	URL          string
}

type exportDocument struct {
	UserID     int64                `json:"user_id"`
	ExportedAt time.Time            `json:"exported_at"`
	Count      int                  `json:"count"`
	Tasks      []exportTaskDocument `json:"tasks"`
}

type exportTaskDocument struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExportService snapshots a user's tasks into object storage under a per-user prefix.
type ExportService interface {
	Enabled() bool
	Export(ctx context.Context, ownerID int64) (*Export, error)
	List(ctx context.Context, ownerID int64) ([]ExportObject, error)
	Clear(ctx context.Context, ownerID int64) error
}

type ExportConfig struct {
	Bucket    string
	KeyPrefix string
}

type exportService struct {
	tasks   TaskService
	storage storage.Service
	cfg     ExportConfig
	now     func() time.Time
}

func NewExportService(tasks TaskService, store storage.Service, cfg ExportConfig) ExportService {
	cfg.KeyPrefix = strings.Trim(cfg.KeyPrefix, "/")
	return &exportService{
		tasks:   tasks,
		storage: store,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *exportService) Enabled() bool {
	return s.storage != nil && s.cfg.Bucket != ""
}

func (s *exportService) Export(ctx context.Context, ownerID int64) (*Export, error) {
	if !s.Enabled() {
		return nil, ErrExportDisabled
	}

	tasks, err := s.tasks.ExportTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	exportedAt := s.now().UTC()
	doc := exportDocument{
		UserID:     ownerID,
		ExportedAt: exportedAt,
		Count:      len(tasks),
		Tasks:      make([]exportTaskDocument, len(tasks)),
	}
	for i, task := range tasks {
		doc.Tasks[i] = toExportTask(task)
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}

	key := s.userPrefix(ownerID) + fmt.Sprintf("tasks-%s-%s.json",
		exportedAt.Format("20060102T150405Z"), uuid.NewString()[:8])
	location, err := s.storage.PutObject(ctx, bytes.NewReader(body), storage.PutOptions{
		Bucket:      s.cfg.Bucket,
		Key:         key,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	return &Export{Location: location, Key: key, Count: len(tasks)}, nil
}

func (s *exportService) List(ctx context.Context, ownerID int64) ([]ExportObject, error) {
	if !s.Enabled() {
		return nil, ErrExportDisabled
	}

	objects, err := s.storage.ListObjects(ctx, s.cfg.Bucket, s.userPrefix(ownerID))
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })

	out := make([]ExportObject, 0, len(objects))
	for _, obj := range objects {
		url, err := s.storage.GetObjectURL(ctx, s.cfg.Bucket, obj.Key, exportURLExpiry)
		if err != nil {
			return nil, err
		}
		out = append(out, ExportObject{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			URL:          url,
		})
	}
	return out, nil
}

func (s *exportService) Clear(ctx context.Context, ownerID int64) error {
	if !s.Enabled() {
		return ErrExportDisabled
	}
	return s.storage.DeletePrefix(ctx, s.cfg.Bucket, s.userPrefix(ownerID))
}

// userPrefix ends in a slash so user 1 never matches user 12's objects.
func (s *exportService) userPrefix(ownerID int64) string {
	return path.Join(s.cfg.KeyPrefix, fmt.Sprint(ownerID)) + "/"
}

func toExportTask(task domain.Task) exportTaskDocument {
	return exportTaskDocument{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}
