package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/etnamonitor/etna-archive/internal/config"
)

// Mirror receives a best-effort off-site copy of each archived graph.
type Mirror interface {
	Put(ctx context.Context, key string, body io.Reader, date string) error
}

type S3Mirror struct {
	uploader *s3manager.Uploader
	cfg      *config.Config
}

func NewS3Mirror(cfg *config.Config) *S3Mirror {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.S3Region),
		Credentials:      credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}

	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
	}

	sess := session.Must(session.NewSession(awsConfig))

	return &S3Mirror{
		uploader: s3manager.NewUploader(sess),
		cfg:      cfg,
	}
}

func (s *S3Mirror) Put(ctx context.Context, key string, body io.Reader, date string) error {
	contentType := "image/png"
	if strings.HasSuffix(key, ".gz") {
		contentType = "application/gzip"
	}

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.cfg.S3Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		Metadata: map[string]*string{
			"Archive-Date": aws.String(date),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
