// Package s3 provides an S3 snapshot sink.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/rbaliyan/stakemail/snapshot"
)

// Sink implements snapshot.Sink using AWS S3.
type Sink struct {
	client *s3.Client
	bucket string
	prefix string
	sse    string
	logger *slog.Logger
}

// Compile-time check
var _ snapshot.Sink = (*Sink)(nil)

// New creates a new S3 snapshot sink.
// The context is used for AWS credential loading.
func New(ctx context.Context, opts ...Option) (*Sink, error) {
	o := &options{
		region:          DefaultRegion,
		prefix:          DefaultPrefix,
		roleSessionName: DefaultSessionName,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
		if o.endpoint != "" {
			opts.BaseEndpoint = aws.String(o.endpoint)
			opts.UsePathStyle = o.usePathStyle
		}
	})

	return &Sink{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		sse:    o.sse,
		logger: o.logger,
	}, nil
}

// buildAWSConfig picks static credentials, an assumed role, or the
// default credential chain, in that order.
func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	switch {
	case o.accessKey != "" && o.secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.roleARN != "":
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(baseCfg), o.roleARN,
			func(ro *stscreds.AssumeRoleOptions) {
				ro.RoleSessionName = o.roleSessionName
				if o.externalID != "" {
					ro.ExternalID = aws.String(o.externalID)
				}
			})
		optFns = append(optFns, config.WithCredentialsProvider(aws.NewCredentialsCache(provider)))
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Put uploads data and returns an s3://bucket/key URI.
func (s *Sink) Put(ctx context.Context, key string, data []byte) (string, error) {
	key = path.Join(s.prefix, key)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(snapshot.ContentType),
	}
	if s.sse != "" {
		input.ServerSideEncryption = types.ServerSideEncryption(s.sse)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object to s3: %w", err)
	}

	s.logger.Info("archived snapshot to s3", "bucket", s.bucket, "key", key, "bytes", len(data))
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get downloads the snapshot at uri.
func (s *Sink) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}
	return b, nil
}

// parseURI splits an s3:// URI into bucket and key.
func parseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri (no key): %s", uri)
	}
	return bucket, key, nil
}
