// Package storage persists certificate artifacts in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/metrics"
)

// KeyPrefix is the bucket prefix under which every artifact is written.
const KeyPrefix = "certificates/"

type S3Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	Timeout       time.Duration
	// MaxAttempts overrides the SDK retry budget when non-zero.
	MaxAttempts int
}

// Stored describes an artifact after it has been written.
type Stored struct {
	Key      string
	URL      string
	MimeType string
	Size     int64
}

// S3Store writes certificate artifacts to a bucket. PDFs are rasterized to
// PNG first so downstream text extraction always receives an image.
type S3Store struct {
	logger zerolog.Logger
	client *s3.Client
	cfg    S3Config
	raster Rasterizer
}

func NewS3Store(logger zerolog.Logger, cfg S3Config, raster Rasterizer) *S3Store {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client := s3.New(s3.Options{
		BaseEndpoint:               aws.String(cfg.Endpoint),
		Region:                     region,
		Credentials:                credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle:               true,
		RetryMaxAttempts:           cfg.MaxAttempts,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	})
	return &S3Store{
		logger: logger.With().Str("component", "object-store").Logger(),
		client: client,
		cfg:    cfg,
		raster: raster,
	}
}

// Store writes data under a key derived from certificateID. The returned
// URL is public and stable for the lifetime of the object.
func (s *S3Store) Store(ctx context.Context, certificateID string, data []byte, mimeType string) (stored *Stored, err error) {
	start := time.Now()
	defer func() { metrics.ObserveAdapter("object_store", "put", start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if mimeType == "application/pdf" {
		if s.raster == nil {
			return nil, fmt.Errorf("no rasterizer configured for pdf artifacts")
		}
		png, err := s.raster.Rasterize(ctx, data)
		if err != nil {
			return nil, err
		}
		data, mimeType = png, "image/png"
	}

	key := KeyPrefix + certificateID + "." + extension(mimeType)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, classify(err, "store artifact")
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("artifact stored")
	return &Stored{
		Key:      key,
		URL:      s.publicURL(key),
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

// Delete removes a stored artifact. Deleting a missing key succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveAdapter("object_store", "delete", start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(err, "delete artifact")
	}
	return nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return classify(err, "head bucket")
	}
	return nil
}

func (s *S3Store) publicURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + key
}

func (s *S3Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// classify maps SDK failures onto the shared upstream errors: 4xx responses
// are rejections, everything else is unavailability or timeout.
func classify(err error, action string) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if code := respErr.HTTPStatusCode(); code >= 400 && code < 500 {
			return domainerr.ErrUpstreamRejected.Because(err, "%s", action)
		}
	}
	return domainerr.Upstream(err, "%s", action)
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	case "application/pdf":
		return "pdf"
	}
	return "bin"
}
