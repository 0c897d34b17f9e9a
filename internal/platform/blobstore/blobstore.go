// Package blobstore publishes ingestion artifacts to object storage. It
// defines the Store interface, an in-memory implementation for tests and
// development, and backends for Google Cloud Storage and MinIO/S3.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrMissingKey     = errors.New("object key is required")
)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes an uploaded artifact.
type Object struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	URI         string `json:"uri"`
}

// Store uploads a local file under key.
type Store interface {
	Put(ctx context.Context, key, localPath string) (Object, error)
}

// ObjectKey builds the canonical key <kind>/<runID>/<basename>.
func ObjectKey(kind, runID, localPath string) string {
	return path.Join(kind, runID, filepath.Base(localPath))
}

// ContentType maps artifact extensions to MIME types.
func ContentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".csv":
		return "text/csv"
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".ndjson":
		return "application/fhir+ndjson"
	case ".json":
		return "application/json"
	case ".dcm":
		return "application/dicom"
	default:
		return "application/octet-stream"
	}
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// InMemoryStore is a thread-safe Store keeping object contents in memory.
type InMemoryStore struct {
	bucket  string
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewInMemoryStore(bucket string) *InMemoryStore {
	return &InMemoryStore{
		bucket:  bucket,
		objects: make(map[string][]byte),
	}
}

func (s *InMemoryStore) Put(_ context.Context, key, localPath string) (Object, error) {
	if key == "" {
		return Object{}, ErrMissingKey
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("reading artifact: %w", err)
	}

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()

	return Object{
		Bucket:      s.bucket,
		Key:         key,
		Size:        int64(len(data)),
		ContentType: ContentType(localPath),
		URI:         "mem://" + s.bucket + "/" + key,
	}, nil
}

// Get returns a copy of the stored object content.
func (s *InMemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Keys lists stored keys in no particular order.
func (s *InMemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
