package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
)

// GCSStore uploads artifacts to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

func (s *GCSStore) Put(ctx context.Context, key, localPath string) (Object, error) {
	if key == "" {
		return Object{}, ErrMissingKey
	}
	f, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = ContentType(localPath)
	n, err := io.Copy(w, f)
	if err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("gcs upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("gcs upload %s: %w", key, err)
	}

	return Object{
		Bucket:      s.bucket,
		Key:         key,
		Size:        n,
		ContentType: w.ContentType,
		URI:         fmt.Sprintf("gs://%s/%s", s.bucket, key),
	}, nil
}
