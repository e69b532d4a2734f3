package minio

import (
    "context"
    "fmt"
    "io"
    "time"

    "github.com/minio/minio-go/v7"
    "github.com/minio/minio-go/v7/pkg/credentials"

    cfg "github.com/feichai0017/document-extractor/config"
    "github.com/feichai0017/document-extractor/pkg/logger"
    "github.com/feichai0017/document-extractor/pkg/storage/errs"
)

type MinioStorage struct {
    client     *minio.Client
    bucketName string
    logger     logger.Logger
}

func (m *MinioStorage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
    _, err := m.client.PutObject(ctx, m.bucketName, key, reader, -1, minio.PutObjectOptions{})
    if err != nil {
        m.logger.Error("Failed to store file to MinIO",
            logger.String("bucket", m.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return "", fmt.Errorf("failed to store file: %w", err)
    }

    return key, nil
}

// Get stats the object first so a missing key surfaces here rather than on
// the first read.
func (m *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
    obj, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
    if err == nil {
        _, err = obj.Stat()
        if err != nil {
            obj.Close()
        }
    }
    if err != nil {
        if minio.ToErrorResponse(err).Code == "NoSuchKey" {
            return nil, fmt.Errorf("failed to get file %s: %w", key, errs.ErrNotFound)
        }
        m.logger.Error("Failed to get file from MinIO",
            logger.String("bucket", m.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return nil, fmt.Errorf("failed to get file: %w", err)
    }

    return obj, nil
}

func (m *MinioStorage) Delete(ctx context.Context, key string) error {
    err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{})
    if err != nil {
        m.logger.Error("Failed to delete file from MinIO",
            logger.String("bucket", m.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return fmt.Errorf("failed to delete file: %w", err)
    }

    return nil
}

func (m *MinioStorage) CleanupBefore(ctx context.Context, threshold time.Time) error {
    objectCh := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{Recursive: true})

    for obj := range objectCh {
        if obj.Err != nil {
            m.logger.Error("Error listing objects",
                logger.String("bucket", m.bucketName),
                logger.Error(obj.Err),
            )
            continue
        }

        if obj.LastModified.Before(threshold) {
            if err := m.Delete(ctx, obj.Key); err != nil {
                continue
            }
            m.logger.Info("Deleted expired object",
                logger.String("key", obj.Key),
                logger.Time("lastModified", obj.LastModified),
            )
        }
    }

    return nil
}

func NewMinioStorage(ctx context.Context, minioConfig *cfg.MinioConfig, log logger.Logger) (*MinioStorage, error) {
    client, err := minio.New(minioConfig.Endpoint, &minio.Options{
        Creds:  credentials.NewStaticV4(minioConfig.AccessKey, minioConfig.SecretKey, ""),
        Secure: minioConfig.UseSSL,
        Region: minioConfig.Region,
    })
    if err != nil {
        return nil, fmt.Errorf("failed to create MinIO client: %w", err)
    }

    exists, err := client.BucketExists(ctx, minioConfig.BucketName)
    if err != nil {
        return nil, fmt.Errorf("failed to check bucket existence: %w", err)
    }

    if !exists {
        err = client.MakeBucket(ctx, minioConfig.BucketName, minio.MakeBucketOptions{
            Region: minioConfig.Region,
        })
        if err != nil {
            return nil, fmt.Errorf("failed to create bucket: %w", err)
        }
    }

    return &MinioStorage{
        client:     client,
        bucketName: minioConfig.BucketName,
        logger:     log.Named("minio"),
    }, nil
}

// GetClient builds a client from the environment configuration.
func GetClient(ctx context.Context, log logger.Logger) (*MinioStorage, error) {
    return NewMinioStorage(ctx, cfg.GetMinioConfig(), log)
}
