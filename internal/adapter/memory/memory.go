// Package memory implements adapter.ObjectStore in process memory for dev mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eremconecta/portal/internal/adapter"
)

// DefaultMaxObjectSize bounds objects kept in memory.
const DefaultMaxObjectSize = 256 * 1024

// Object is a stored blob.
type Object struct {
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
	StoredAt    time.Time
}

// Store keeps objects in a map keyed by bucket and key.
type Store struct {
	mu      sync.RWMutex
	objects map[string]Object
	maxSize int
}

// NewStore returns an empty store. maxSize <= 0 uses DefaultMaxObjectSize.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxObjectSize
	}
	return &Store{objects: make(map[string]Object), maxSize: maxSize}
}

func path(bucket, key string) string {
	return bucket + "/" + key
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return adapter.ErrBucketRequired
	}
	if len(body) > s.maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", adapter.ErrTooLarge, len(body), s.maxSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path(bucket, key)] = Object{
		Bucket:      bucket,
		Key:         key,
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
		StoredAt:    time.Now(),
	}
	return nil
}

// Get returns the object stored under bucket/key.
func (s *Store) Get(bucket, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path(bucket, key)]
	if !ok {
		return Object{}, adapter.ErrNotFound
	}
	return obj, nil
}

// Keys lists the keys stored in bucket, sorted.
func (s *Store) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for _, obj := range s.objects {
		if obj.Bucket == bucket {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys
}
