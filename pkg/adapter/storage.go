package adapter

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/model"
)

var _ interfaces.EventArchive = (*Storage)(nil)

// Storage archives raw webhook deliveries in a Cloud Storage bucket
type Storage struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

type StorageOption func(*Storage)

// WithPrefix sets the object name prefix. Default is "events/".
func WithPrefix(prefix string) StorageOption {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string, opts ...StorageOption) (*Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	s := &Storage{
		bucketName: bucketName,
		prefix:     "events/",
		client:     client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Storage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	if key == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "object key is empty")
	}

	name := s.prefix + key
	w := s.client.Bucket(s.bucketName).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	return &objectWriter{w: w, bucket: s.bucketName, key: name}, nil
}

// Get loads an archived event body for replay
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucketName).Object(s.prefix + key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(model.ErrNotFound, "archived event not found", goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to read from storage", goerr.V("key", key))
	}

	return reader, nil
}

// objectWriter classifies write and finalize failures as upstream errors
type objectWriter struct {
	w      *storage.Writer
	bucket string
	key    string
}

func (x *objectWriter) Write(p []byte) (int, error) {
	n, err := x.w.Write(p)
	if err != nil {
		return n, goerr.Wrap(model.Upstream(err), "failed to write object", goerr.V("bucket", x.bucket), goerr.V("key", x.key))
	}
	return n, nil
}

func (x *objectWriter) Close() error {
	if err := x.w.Close(); err != nil {
		return goerr.Wrap(model.Upstream(err), "failed to close object writer", goerr.V("bucket", x.bucket), goerr.V("key", x.key))
	}
	return nil
}
