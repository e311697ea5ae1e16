package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/vbonduro/homewiz/internal/domain"
)

// Config holds connection settings for S3-compatible storage
// (AWS S3, MinIO, Supabase Storage's S3 endpoint).
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// PublicURL is the base that storage paths are appended to. When empty it
	// is derived from the endpoint or the standard AWS host.
	PublicURL string
}

type Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	publicURL string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	slog.Info("initializing S3 blob store", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	acfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint)
	client := s3.NewFromConfig(acfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		if endpoint == "" {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		} else {
			publicURL = endpoint + "/" + cfg.Bucket
		}
	}
	return NewWithClient(client, cfg.Bucket, publicURL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket, publicURL string) *Store {
	return &Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

func (s *Store) URL(path string) string {
	return s.publicURL + "/" + strings.TrimPrefix(path, "/")
}

func (s *Store) Put(ctx context.Context, path string, r io.Reader, contentType string) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", classify("put blob", err)
	}
	return s.URL(path), nil
}

func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, "", classify("get blob", err)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// Delete is idempotent: S3 does not report missing keys on delete.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return classify("delete blob", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list blobs", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func classify(op string, err error) error {
	var noBucket *s3types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return domain.NewStoreError(op, domain.ReasonBucketNotFound, err)
	}
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return domain.NewStoreError(op, domain.ReasonNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return domain.NewStoreError(op, domain.ReasonBucketNotFound, err)
		case "NoSuchKey", "NotFound":
			return domain.NewStoreError(op, domain.ReasonNotFound, err)
		case "InvalidArgument", "InvalidRequest", "KeyTooLongError":
			return domain.NewStoreError(op, domain.ReasonInvalid, err)
		}
	}
	return domain.NewStoreError(op, domain.ReasonBackend, err)
}

func normalizeEndpoint(ep string) string {
	ep = strings.TrimSpace(ep)
	if ep == "" {
		return ""
	}
	if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
		ep = "https://" + ep
	}
	u, err := url.Parse(ep)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.String(), "/")
}
