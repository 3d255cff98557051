package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numS3UploadRetries = 3

// S3UploadParams ...
type S3UploadParams struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	Data        []byte
	Filename    string
	ContentType string
	Folder      string
}

type s3UploadService struct {
	client *s3.Client
	bucket string
}

// UploadToS3 pushes the payload to an S3-compatible bucket instead of the
// worker endpoint. Used when the configured endpoint is an s3:// URL.
func UploadToS3(ctx context.Context, params S3UploadParams, logger log.Logger) (Result, error) {
	if params.Bucket == "" {
		return Result{}, fmt.Errorf("Bucket must not be empty")
	}
	if params.Filename == "" {
		return Result{}, fmt.Errorf("Filename must not be empty")
	}
	if len(params.Data) == 0 {
		return Result{}, fmt.Errorf("payload is empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey)
	if err != nil {
		return Result{}, fmt.Errorf("load aws credentials: %w", err)
	}

	service := &s3UploadService{
		client: s3.NewFromConfig(*cfg),
		bucket: params.Bucket,
	}

	key := params.Filename
	if params.Folder != "" {
		key = strings.TrimSuffix(params.Folder, "/") + "/" + params.Filename
	}

	if err := service.putObjectWithRetry(ctx, key, params.Data, params.ContentType, logger); err != nil {
		return Result{}, fmt.Errorf("upload object: %w", err)
	}

	return Result{
		URL:  fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", params.Bucket, params.Region, key),
		Path: key,
	}, nil
}

func (service *s3UploadService) putObjectWithRetry(ctx context.Context, key string, data []byte, contentType string, logger log.Logger) error {
	return retry.Times(numS3UploadRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			logger.Warnf("Retrying S3 upload (attempt %d)...", attempt+1)
		}

		uploader := manager.NewUploader(service.client, func(u *manager.Uploader) {
			u.PartSize = 10 * 1024 * 1024
		})

		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Body:          bytes.NewReader(data),
			Bucket:        aws.String(service.bucket),
			Key:           aws.String(key),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) && isPermanentS3Error(apiError.ErrorCode()) {
				return fmt.Errorf("upload object: %w", err), true
			}
			return fmt.Errorf("upload object: %w", err), false
		}
		return nil, true
	})
}

func isPermanentS3Error(code string) bool {
	switch code {
	case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	default:
		return false
	}
}

func loadAWSCredentials(ctx context.Context, region, accessKeyID, secretKey string) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKeyID != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}
	return &cfg, nil
}
