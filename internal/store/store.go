// Package store holds the realtime key-value store that task data lives in.
//
// Data is organised as collections of records addressed by slash separated paths,
// e.g. "tasks/{userId}" for a collection and "tasks/{userId}/{taskId}" for a record.
// Subscribers to a collection receive a full snapshot once on subscribe and again after
// every change to it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidPath = errors.New("invalid store path")
	ErrClosed      = errors.New("store closed")
)

// Record is the field map of a single record.
type Record map[string]any

// Snapshot maps record keys to records. A nil snapshot means the collection is absent.
type Snapshot map[string]Record

type SnapshotFunc func(Snapshot)

type ErrorFunc func(error)

// Unsubscribe releases a subscription. It is safe to call more than once and never blocks
// on an in-flight delivery.
type Unsubscribe func()

type Store interface {
	// Subscribe delivers snapshots of the collection at path, serially and in emission
	// order, until the returned function is called.
	Subscribe(path string, onSnapshot SnapshotFunc, onError ErrorFunc) Unsubscribe
	// Push appends record to the collection under a new chronological key.
	Push(ctx context.Context, path string, record Record) (string, error)
	// Update merges fields into the record at path. A nil value removes the field.
	Update(ctx context.Context, path string, fields Record) error
	Remove(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (Snapshot, error)
	Health(ctx context.Context) error
	Close() error
}

const tasksRoot = "tasks"

// TasksPath returns the collection path of a user's tasks.
func TasksPath(userID string) (string, error) {
	if err := validSegment(userID); err != nil {
		return "", err
	}
	return tasksRoot + "/" + userID, nil
}

// TaskPath returns the record path of a single task.
func TaskPath(userID, taskID string) (string, error) {
	collection, err := TasksPath(userID)
	if err != nil {
		return "", err
	}
	if err := validSegment(taskID); err != nil {
		return "", err
	}
	return collection + "/" + taskID, nil
}

func validSegment(segment string) error {
	if segment == "" || strings.ContainsAny(segment, "/.#$[]") {
		return fmt.Errorf("%w: segment %q", ErrInvalidPath, segment)
	}
	return nil
}

func collectionPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, segment := range strings.Split(path, "/") {
		if err := validSegment(segment); err != nil {
			return err
		}
	}
	return nil
}

// splitRecordPath splits a record path into its collection path and key.
func splitRecordPath(path string) (string, string, error) {
	if err := collectionPath(path); err != nil {
		return "", "", err
	}
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", "", fmt.Errorf("%w: %q is not a record path", ErrInvalidPath, path)
	}
	return path[:i], path[i+1:], nil
}

// merge applies a partial update to record in place.
func merge(record Record, fields Record) {
	for k, v := range fields {
		if v == nil {
			delete(record, k)
			continue
		}
		record[k] = v
	}
}

// compact drops nil fields, which a write treats as absent.
func compact(record Record) Record {
	out := make(Record, len(record))
	for k, v := range record {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
