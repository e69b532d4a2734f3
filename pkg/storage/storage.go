// Package storage keeps uploaded documents and extraction results in an
// object store.
package storage

import (
    "context"
    "errors"
    "fmt"
    "io"
    "path"
    "time"

    "github.com/feichai0017/document-extractor/pkg/logger"
    "github.com/feichai0017/document-extractor/pkg/storage/errs"
    "github.com/feichai0017/document-extractor/pkg/storage/memory"
    "github.com/feichai0017/document-extractor/pkg/storage/minio"
    "github.com/feichai0017/document-extractor/pkg/storage/s3"
)

type StorageType string

const (
    StorageTypeS3     StorageType = "s3"
    StorageTypeMinio  StorageType = "minio"
    StorageTypeMemory StorageType = "memory"
)

// ErrNotFound is returned by Get and Delete for a missing key.
var ErrNotFound = errs.ErrNotFound

type Storage interface {
    // Store writes reader under key and returns the key.
    Store(ctx context.Context, reader io.Reader, key string) (string, error)
    Get(ctx context.Context, key string) (io.ReadCloser, error)
    Delete(ctx context.Context, key string) error
    // CleanupBefore removes objects last modified before threshold.
    CleanupBefore(ctx context.Context, threshold time.Time) error
}

func NewStorage(ctx context.Context, storageType StorageType, log logger.Logger) (Storage, error) {
    switch storageType {
    case StorageTypeS3:
        return s3.GetClient(ctx, log)
    case StorageTypeMinio:
        return minio.GetClient(ctx, log)
    case StorageTypeMemory:
        return memory.New(), nil
    default:
        return nil, fmt.Errorf("unsupported storage type: %s", storageType)
    }
}

// UploadKey is where the original document of a task is kept.
func UploadKey(taskID, filename string) string {
    return path.Join("uploads", taskID, path.Base(filename))
}

// ResultKey is where the exported result of a task is kept.
func ResultKey(taskID string) string {
    return path.Join("results", taskID+".json")
}

// ReadAll fetches key fully, failing past limit bytes.
func ReadAll(ctx context.Context, s Storage, key string, limit int64) ([]byte, error) {
    rc, err := s.Get(ctx, key)
    if err != nil {
        return nil, err
    }
    defer rc.Close()

    data, err := io.ReadAll(io.LimitReader(rc, limit+1))
    if err != nil {
        return nil, fmt.Errorf("failed to read %s: %w", key, err)
    }
    if int64(len(data)) > limit {
        return nil, fmt.Errorf("object %s exceeds %d bytes", key, limit)
    }
    return data, nil
}

func IsNotFound(err error) bool {
    return errors.Is(err, ErrNotFound)
}
