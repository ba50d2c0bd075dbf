// Package storagetest provides an in-memory storage.Service for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"task-tracker/internal/storage"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Memory keeps objects in a map keyed by bucket and key.
type Memory struct {
	mu      sync.Mutex
	objects map[string]map[string]object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]map[string]object)}
}

func (m *Memory) PutObject(ctx context.Context, body io.Reader, opts storage.PutOptions) (string, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return "", fmt.Errorf("bucket and key are required")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[opts.Bucket] == nil {
		m.objects[opts.Bucket] = make(map[string]object)
	}
	m.objects[opts.Bucket][opts.Key] = object{data: data, contentType: opts.ContentType, modified: time.Now().UTC()}
	return fmt.Sprintf("s3://%s/%s", opts.Bucket, opts.Key), nil
}

func (m *Memory) ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for key, obj := range m.objects[bucket] {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		modified := obj.modified
		out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: &modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.objects[bucket] {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects[bucket], key)
		}
	}
	return nil
}

func (m *Memory) GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://%s.storage.test/%s?expires=%d", bucket, key, int(expires.Seconds())), nil
}

// Object returns the stored bytes for key.
func (m *Memory) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket][key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

var _ storage.Service = (*Memory)(nil)
