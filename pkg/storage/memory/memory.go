// Package memory is an in-process object store for local runs and tests.
package memory

import (
    "bytes"
    "context"
    "fmt"
    "io"
    "sort"
    "sync"
    "time"

    "github.com/feichai0017/document-extractor/pkg/storage/errs"
)

type object struct {
    data         []byte
    lastModified time.Time
}

type Storage struct {
    mu      sync.RWMutex
    objects map[string]object
    now     func() time.Time
}

func New() *Storage {
    return &Storage{objects: make(map[string]object), now: time.Now}
}

func (s *Storage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
    data, err := io.ReadAll(reader)
    if err != nil {
        return "", fmt.Errorf("failed to store file: %w", err)
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    s.objects[key] = object{data: data, lastModified: s.now()}
    return key, nil
}

func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    obj, ok := s.objects[key]
    if !ok {
        return nil, fmt.Errorf("failed to get file %s: %w", key, errs.ErrNotFound)
    }
    return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, ok := s.objects[key]; !ok {
        return fmt.Errorf("failed to delete file %s: %w", key, errs.ErrNotFound)
    }
    delete(s.objects, key)
    return nil
}

func (s *Storage) CleanupBefore(ctx context.Context, threshold time.Time) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    for key, obj := range s.objects {
        if obj.lastModified.Before(threshold) {
            delete(s.objects, key)
        }
    }
    return nil
}

// Keys lists the stored keys in order.
func (s *Storage) Keys() []string {
    s.mu.RLock()
    defer s.mu.RUnlock()
    keys := make([]string, 0, len(s.objects))
    for k := range s.objects {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    return keys
}
