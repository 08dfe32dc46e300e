package storage

import (
	"context"
	"errors"

	"autocapture/photo"
)

// SchemaVersion is the only layout this package knows how to open.
const SchemaVersion = 1

var (
	// ErrNotOpen is returned by a Handle whose open has not completed yet.
	ErrNotOpen = errors.New("storage: not open")
	// ErrDuplicateID is returned when a photo with the same id already exists.
	ErrDuplicateID = errors.New("storage: duplicate photo id")
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("storage: photo not found")
	// ErrSchemaVersion is returned when the file was written by a newer layout.
	ErrSchemaVersion = errors.New("storage: unsupported schema version")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// Store abstracts a persistence back-end for captured photos.
// Records are immutable: there is no update or delete.
type Store interface {
	// Add inserts a new photo. The photo is validated first.
	Add(ctx context.Context, p photo.Photo) error

	// All returns every stored photo sorted by id ascending.
	All(ctx context.Context) ([]photo.Photo, error)

	// Get returns one photo or ErrNotFound.
	Get(ctx context.Context, id int64) (photo.Photo, error)

	// Count returns the number of stored photos.
	Count(ctx context.Context) (int, error)

	// Close releases any resources (e.g. DB connections).
	Close() error
}
