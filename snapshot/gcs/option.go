package gcs

import (
	"log/slog"
)

// DefaultPrefix is the object prefix used when none is set.
const DefaultPrefix = "snapshots"

// options holds GCS sink configuration.
type options struct {
	bucket string
	prefix string

	// Custom endpoint (for emulators, testing)
	endpoint string

	// Credentials (mutually exclusive)
	credentialsJSON []byte
	credentialsFile string

	kmsKeyName string
	logger     *slog.Logger
}

// Option configures the GCS sink.
type Option func(*options)

// WithBucket sets the GCS bucket name (required).
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix sets the object prefix for snapshots.
// Default is "snapshots".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEndpoint sets a custom GCS endpoint (for emulators, testing).
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithCredentialsJSON sets service account credentials from JSON bytes.
func WithCredentialsJSON(json []byte) Option {
	return func(o *options) {
		o.credentialsJSON = json
	}
}

// WithCredentialsFile sets the path to a service account JSON key file.
// Without either credentials option, Application Default Credentials are used.
func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.credentialsFile = path
	}
}

// WithKMSKey encrypts uploaded snapshots with the given Cloud KMS key.
func WithKMSKey(name string) Option {
	return func(o *options) {
		o.kmsKeyName = name
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
