// Package objectstore stores backend snapshots in memory, on the local
// filesystem, or in an S3-compatible bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrChecksumFailed = errors.New("checksum verification failed")
	ErrUnknownType    = errors.New("unknown object store type")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

type ListResult struct {
	Objects     []ObjectInfo
	NextMarker  string
	IsTruncated bool
}

type PutOptions struct {
	ContentType string
	// Checksum is the base64 SHA-256 of the body; a mismatch fails the put.
	Checksum string
}

type ListOptions struct {
	Prefix  string
	Marker  string
	MaxKeys int
}

type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts *ListOptions) (*ListResult, error)
}

// Config selects and configures a store implementation.
type Config struct {
	Type      string `json:"type"` // memory, fs or s3
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
	RootPath  string `json:"root_path"`
}

// Open builds the store named by cfg.Type wrapped with metrics.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		inner Store
		err   error
	)
	switch cfg.Type {
	case "", "memory":
		inner = NewMemoryStore()
	case "fs":
		inner, err = NewFSStore(cfg.RootPath)
	case "s3":
		var s3 *S3Store
		s3, err = NewS3Store(S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
		if err == nil {
			err = s3.EnsureBucket(ctx)
		}
		inner = s3
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewInstrumentedStore(inner), nil
}
