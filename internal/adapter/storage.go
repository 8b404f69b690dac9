package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const contentTypeJSON = "application/json"

// ObjectStore defines the interface for write-only blob persistence.
// This abstraction allows switching between S3 and the in-memory store used in dev mode.
type ObjectStore interface {
	// PutObject writes body under bucket/key, replacing any existing object.
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// Snapshotter saves JSON documents into one bucket.
type Snapshotter struct {
	store  ObjectStore
	bucket string
}

func NewSnapshotter(store ObjectStore, bucket string) *Snapshotter {
	return &Snapshotter{store: store, bucket: bucket}
}

// SaveJSON stores payload under key. A JSON string payload is stored as its string
// value; anything else is re-encoded with two-space indentation.
func (s *Snapshotter) SaveJSON(ctx context.Context, key string, payload json.RawMessage) error {
	if s.bucket == "" {
		return ErrBucketRequired
	}
	body, err := renderPayload(payload)
	if err != nil {
		return err
	}
	if err := s.store.PutObject(ctx, s.bucket, key, body, contentTypeJSON); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func renderPayload(payload json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return []byte(str), nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out.Bytes(), nil
}

// DefaultKey names a snapshot taken at now: records/2024-05-01T12-30-00-000Z.json.
func DefaultKey(now time.Time) string {
	stamp := now.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return "records/" + stamp + ".json"
}
