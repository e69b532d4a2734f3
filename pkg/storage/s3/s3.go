package s3

import (
    "context"
    "errors"
    "fmt"
    "io"
    "time"

    "github.com/aws/aws-sdk-go-v2/aws"
    "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/credentials"
    "github.com/aws/aws-sdk-go-v2/service/s3"
    "github.com/aws/aws-sdk-go-v2/service/s3/types"

    cfg "github.com/feichai0017/document-extractor/config"
    "github.com/feichai0017/document-extractor/pkg/logger"
    "github.com/feichai0017/document-extractor/pkg/storage/errs"
)

// s3API is the subset of *s3.Client used here.
type s3API interface {
    PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
    GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
    DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
    ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Storage struct {
    client     s3API
    bucketName string
    logger     logger.Logger
}

func (s *S3Storage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
    input := &s3.PutObjectInput{
        Bucket: aws.String(s.bucketName),
        Key:    aws.String(key),
        Body:   reader,
    }

    if _, err := s.client.PutObject(ctx, input); err != nil {
        s.logger.Error("Failed to store file to S3",
            logger.String("bucket", s.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return "", fmt.Errorf("failed to store file: %w", err)
    }

    return key, nil
}

func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
    input := &s3.GetObjectInput{
        Bucket: aws.String(s.bucketName),
        Key:    aws.String(key),
    }

    result, err := s.client.GetObject(ctx, input)
    if err != nil {
        var missing *types.NoSuchKey
        if errors.As(err, &missing) {
            return nil, fmt.Errorf("failed to get file %s: %w", key, errs.ErrNotFound)
        }
        s.logger.Error("Failed to get file from S3",
            logger.String("bucket", s.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return nil, fmt.Errorf("failed to get file: %w", err)
    }

    return result.Body, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
    input := &s3.DeleteObjectInput{
        Bucket: aws.String(s.bucketName),
        Key:    aws.String(key),
    }

    if _, err := s.client.DeleteObject(ctx, input); err != nil {
        s.logger.Error("Failed to delete file from S3",
            logger.String("bucket", s.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return fmt.Errorf("failed to delete file: %w", err)
    }

    return nil
}

func (s *S3Storage) CleanupBefore(ctx context.Context, threshold time.Time) error {
    input := &s3.ListObjectsV2Input{
        Bucket: aws.String(s.bucketName),
    }

    paginator := s3.NewListObjectsV2Paginator(s.client, input)
    for paginator.HasMorePages() {
        page, err := paginator.NextPage(ctx)
        if err != nil {
            s.logger.Error("Failed to list objects",
                logger.String("bucket", s.bucketName),
                logger.Error(err),
            )
            return fmt.Errorf("failed to list objects: %w", err)
        }

        for _, obj := range page.Contents {
            if obj.LastModified == nil || !obj.LastModified.Before(threshold) {
                continue
            }
            key := aws.ToString(obj.Key)
            if err := s.Delete(ctx, key); err != nil {
                continue
            }
            s.logger.Info("Deleted expired object",
                logger.String("key", key),
                logger.Time("lastModified", *obj.LastModified),
            )
        }
    }

    return nil
}

func NewS3Storage(ctx context.Context, s3Config *cfg.S3Config, log logger.Logger) (*S3Storage, error) {
    log = log.Named("s3")
    log.Info("S3 configuration",
        logger.String("bucket", s3Config.BucketName),
        logger.String("region", s3Config.Region),
        logger.String("endpoint", s3Config.Endpoint),
    )

    opts := []func(*config.LoadOptions) error{config.WithRegion(s3Config.Region)}
    if s3Config.AccessKey != "" {
        opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
            s3Config.AccessKey,
            s3Config.SecretKey,
            "",
        )))
    }
    awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
    if err != nil {
        return nil, fmt.Errorf("failed to load AWS config: %w", err)
    }

    client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
        if s3Config.Endpoint != "" {
            o.BaseEndpoint = aws.String(s3Config.Endpoint)
            o.UsePathStyle = true
        }
    })

    if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
        Bucket: aws.String(s3Config.BucketName),
    }); err != nil {
        return nil, fmt.Errorf("failed to verify bucket existence: %w", err)
    }

    return newS3Storage(client, s3Config.BucketName, log), nil
}

func newS3Storage(client s3API, bucket string, log logger.Logger) *S3Storage {
    return &S3Storage{
        client:     client,
        bucketName: bucket,
        logger:     log,
    }
}

// GetClient builds a client from the environment configuration.
func GetClient(ctx context.Context, log logger.Logger) (*S3Storage, error) {
    return NewS3Storage(ctx, cfg.GetS3Config(), log)
}
