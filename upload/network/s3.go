package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/screencap-io/go-uploadutils/upload/chunk"
	"github.com/screencap-io/go-uploadutils/upload/mediainfo"
)

const presignExpiry = 15 * time.Minute

// S3Params ...
type S3Params struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

type s3RemoteService struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	logger    log.Logger
}

// NewS3RemoteService creates a RemoteService that talks to an S3-compatible
// bucket directly, for self-hosted setups where recordings bypass the upload
// API. Initiate, presign-part and complete map onto the bucket's own
// multipart operations.
func NewS3RemoteService(ctx context.Context, params S3Params, logger log.Logger) (RemoteService, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("Bucket must not be empty")
	}

	cfg, err := loadAWSConfig(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg)
	return &s3RemoteService{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    params.Bucket,
		logger:    logger,
	}, nil
}

func (s *s3RemoteService) Initiate(ctx context.Context, videoID, contentType string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(videoID)),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload: %w", classifyS3Error(err))
	}

	uploadID := aws.ToString(out.UploadId)
	if uploadID == "" {
		return "", fmt.Errorf("empty upload ID returned for %s", objectKey(videoID))
	}

	return uploadID, nil
}

func (s *s3RemoteService) PresignPart(ctx context.Context, videoID, uploadID string, partNumber int, md5Sum string) (string, error) {
	req, err := s.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(objectKey(videoID)),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		ContentMD5: aws.String(md5Sum),
	}, func(o *s3.PresignOptions) {
		o.Expires = presignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("presign part %d: %w", partNumber, classifyS3Error(err))
	}

	return req.URL, nil
}

func (s *s3RemoteService) Complete(ctx context.Context, videoID, uploadID string, parts []chunk.Part, meta *mediainfo.VideoMetadata) (string, error) {
	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(objectKey(videoID)),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completedParts(parts),
		},
	})
	if err != nil {
		return "", fmt.Errorf("complete multipart upload: %w", classifyS3Error(err))
	}

	if meta != nil {
		// The bucket path has no endpoint to attach descriptive metadata to.
		s.logger.Debugf("Skipping media metadata on direct bucket upload (duration: %s ms, resolution: %s)",
			meta.Duration, meta.Resolution)
	}

	return aws.ToString(out.Location), nil
}

func objectKey(videoID string) string {
	return fmt.Sprintf("%s/result.mp4", videoID)
}

func completedParts(parts []chunk.Part) []s3types.CompletedPart {
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, s3types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.PartNumber)),
		})
	}
	return completed
}

func classifyS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}

func loadAWSConfig(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load default AWS config: %w", err)
	}

	return &cfg, nil
}
