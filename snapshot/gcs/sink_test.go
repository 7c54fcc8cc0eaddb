package gcs

import (
	"context"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"gs://bucket/snapshots/a.msgpack", "bucket", "snapshots/a.msgpack", false},
		{"gs://bucket", "", "", true},
		{"s3://bucket/key", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := parseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("expected %q/%q, got %q/%q", tt.bucket, tt.key, bucket, key)
			}
		})
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background()); err == nil {
		t.Error("expected error without bucket")
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts, err := buildClientOptions(&options{endpoint: "http://localhost:4443/storage/v1/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts) != 1 {
		t.Errorf("expected only the endpoint option, got %d", len(opts))
	}
}
