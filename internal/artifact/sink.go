// Package artifact writes generated artifacts to local or object storage.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"chdocs/internal/config"
)

// Sink is a write-only artifact destination.
type Sink interface {
	Write(ctx context.Context, data []byte) error
	// Location is the destination URL.
	Location() string
}

// Location is a parsed sink URL.
type Location struct {
	Scheme string // file, s3, gs or azblob
	Bucket string // bucket or container; empty for file
	Key    string // object key, or the file path
}

func (l Location) String() string {
	if l.Scheme == "file" {
		return "file://" + l.Key
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// ParseLocation parses a sink URL. A bare path is a file location.
//
//	file://target/catalog.json   (relative)
//	file:///var/lib/catalog.json (absolute)
//	s3://bucket/prefix/catalog.json
//	gs://bucket/prefix/catalog.json
//	azblob://container/prefix/catalog.json
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("sink location is required")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: "file", Key: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse sink location %q: %w", raw, err)
	}
	switch u.Scheme {
	case "file":
		path := u.Host + u.Path
		if path == "" {
			return Location{}, fmt.Errorf("empty path in %q", raw)
		}
		return Location{Scheme: "file", Key: path}, nil
	case "s3", "gs", "azblob":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" {
			return Location{}, fmt.Errorf("empty bucket in %q", raw)
		}
		if key == "" || strings.HasSuffix(key, "/") {
			return Location{}, fmt.Errorf("empty key in %q", raw)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("unsupported sink scheme %q in %q", u.Scheme, raw)
	}
}

// Open returns the sink for raw, building the cloud client it needs from
// storage credentials.
func Open(ctx context.Context, raw string, sc config.StorageConfig) (Sink, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case "file":
		return &FileSink{Path: loc.Key}, nil
	case "s3":
		return NewS3Sink(loc, sc)
	case "gs":
		return NewGCSSink(ctx, loc, sc)
	default:
		return NewAzureSink(loc, sc)
	}
}

// FileSink writes to the local filesystem, replacing the file atomically.
type FileSink struct {
	Path string
}

// Location implements Sink.
func (s *FileSink) Location() string { return "file://" + s.Path }

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.Path, err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("rename to %s: %w", s.Path, err)
	}
	return nil
}

// S3Sink uploads to S3-compatible object storage.
type S3Sink struct {
	client *s3.Client
	loc    Location
}

// NewS3Sink creates an S3 sink using static credentials. Path-style
// addressing is used unless S3URLStyle is "vhost".
func NewS3Sink(loc Location, sc config.StorageConfig) (*S3Sink, error) {
	if !sc.HasS3Config() {
		return nil, fmt.Errorf("S3 config is incomplete (need S3_KEY_ID, S3_SECRET, S3_ENDPOINT, S3_REGION)")
	}
	endpoint := *sc.S3Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	client := s3.New(s3.Options{
		Region:       *sc.S3Region,
		Credentials:  credentials.NewStaticCredentialsProvider(*sc.S3KeyID, *sc.S3Secret, ""),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: sc.S3URLStyle != "vhost",
	})
	return &S3Sink{client: client, loc: loc}, nil
}

// Location implements Sink.
func (s *S3Sink) Location() string { return s.loc.String() }

// Write implements Sink.
func (s *S3Sink) Write(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.loc.Bucket),
		Key:         aws.String(s.loc.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.loc, err)
	}
	return nil
}

// GCSSink uploads to Google Cloud Storage.
type GCSSink struct {
	client *storage.Client
	loc    Location
}

// NewGCSSink creates a GCS sink. Without a key file the client falls back to
// application default credentials.
func NewGCSSink(ctx context.Context, loc Location, sc config.StorageConfig) (*GCSSink, error) {
	var opts []option.ClientOption
	if sc.GCSKeyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, sc.GCSKeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSSink{client: client, loc: loc}, nil
}

// Location implements Sink.
func (s *GCSSink) Location() string { return s.loc.String() }

// Write implements Sink.
func (s *GCSSink) Write(ctx context.Context, data []byte) error {
	w := s.client.Bucket(s.loc.Bucket).Object(s.loc.Key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", s.loc, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", s.loc, err)
	}
	return nil
}

// AzureSink uploads to Azure Blob Storage.
type AzureSink struct {
	client *azblob.Client
	loc    Location
}

// NewAzureSink creates an Azure sink from a storage connection string.
func NewAzureSink(loc Location, sc config.StorageConfig) (*AzureSink, error) {
	if sc.AzureConnectionString == "" {
		return nil, fmt.Errorf("AZURE_STORAGE_CONNECTION_STRING is required for azblob sinks")
	}
	client, err := azblob.NewClientFromConnectionString(sc.AzureConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureSink{client: client, loc: loc}, nil
}

// Location implements Sink.
func (s *AzureSink) Location() string { return s.loc.String() }

// Write implements Sink.
func (s *AzureSink) Write(ctx context.Context, data []byte) error {
	contentType := "application/json"
	_, err := s.client.UploadBuffer(ctx, s.loc.Bucket, s.loc.Key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", s.loc, err)
	}
	return nil
}
