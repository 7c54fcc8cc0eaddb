// Package gcs provides a Google Cloud Storage snapshot sink.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/rbaliyan/stakemail/snapshot"
)

const scopeReadWrite = "https://www.googleapis.com/auth/devstorage.read_write"

// Sink implements snapshot.Sink using Google Cloud Storage.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	kmsKey string
	logger *slog.Logger
}

// Compile-time check
var _ snapshot.Sink = (*Sink)(nil)

// New creates a new GCS snapshot sink.
func New(ctx context.Context, opts ...Option) (*Sink, error) {
	o := &options{
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	clientOpts, err := buildClientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Sink{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		kmsKey: o.kmsKeyName,
		logger: o.logger,
	}, nil
}

// buildClientOptions builds client options from explicit credentials, or
// none to use Application Default Credentials.
func buildClientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	detect := &credentials.DetectOptions{Scopes: []string{scopeReadWrite}}
	switch {
	case o.credentialsJSON != nil:
		detect.CredentialsJSON = o.credentialsJSON
	case o.credentialsFile != "":
		detect.CredentialsFile = o.credentialsFile
	default:
		detect = nil
	}
	if detect != nil {
		creds, err := credentials.DetectDefault(detect)
		if err != nil {
			return nil, fmt.Errorf("detect credentials: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Put uploads data and returns a gs://bucket/key URI.
// The object is created only if it does not already exist.
func (s *Sink) Put(ctx context.Context, key string, data []byte) (string, error) {
	key = path.Join(s.prefix, key)

	obj := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = snapshot.ContentType
	if s.kmsKey != "" {
		w.KMSKeyName = s.kmsKey
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}

	s.logger.Info("archived snapshot to gcs", "bucket", s.bucket, "key", key, "bytes", len(data))
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Get downloads the snapshot at uri.
func (s *Sink) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gcs object: %w", err)
	}
	return b, nil
}

// Close closes the GCS client.
func (s *Sink) Close() error {
	return s.client.Close()
}

// parseURI splits a gs:// URI into bucket and key.
func parseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid gcs uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid gcs uri (no key): %s", uri)
	}
	return bucket, key, nil
}
