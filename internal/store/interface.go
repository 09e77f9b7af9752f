package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmptyKey is returned when a record key is empty. Keys are stored verbatim.
var ErrEmptyKey = errors.New("record key cannot be empty")

// KeyValueStore is a named collection of JSON records.
type KeyValueStore interface {
	// SetValue stores value (JSON-encoded) under key, replacing any previous value.
	SetValue(ctx context.Context, key string, value any) error
	// GetValue decodes the value stored under key into dest; it reports false when key is absent.
	GetValue(ctx context.Context, key string, dest any) (bool, error)
	// ForEachKey calls fn for every record in key order until fn returns an error.
	ForEachKey(ctx context.Context, fn func(key string, value json.RawMessage) error) error
	// ReplaceAll atomically swaps the whole collection for values.
	ReplaceAll(ctx context.Context, values map[string]any) error
	// Clear removes every record of the collection.
	Clear(ctx context.Context) error
}

// Store is the entry point for record storage.
type Store interface {
	// Collection returns the key-value collection called name.
	Collection(name string) KeyValueStore
	// Close closes the store connection.
	Close() error
}
