package adapter

import (
	"errors"
)

var (
	// ErrNotFound is returned when a requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketRequired is returned when no bucket is configured.
	ErrBucketRequired = errors.New("S3 bucket name is required")

	// ErrTooLarge is returned when an object exceeds the store's size limit.
	ErrTooLarge = errors.New("object too large")
)
