// Package kv defines the transactional key-value contract that the graph
// layer persists through.
//
// Two implementations ship with TagDB:
//
//   - badgerkv: BadgerDB, durable LSM storage with optimistic transactions.
//   - memkv: an ordered in-memory map made durable by an append-only log.
//
// A Backend runs every top-level operation inside exactly one transaction.
// Writes done through a Txn become visible to other transactions only after
// the Update callback returns nil, and are discarded entirely otherwise.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Txn.Get when the key does not exist.
	ErrKeyNotFound = errors.New("kv: key not found")

	// ErrConflict is returned by Update when a concurrent transaction wrote
	// a key this transaction read. Nothing was committed.
	ErrConflict = errors.New("kv: transaction conflict")

	// ErrClosed is returned by every operation on a closed backend.
	ErrClosed = errors.New("kv: backend closed")

	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("kv: write in read-only transaction")

	// ErrStop can be returned from an Iterate callback to end the scan early.
	// Iterate itself then returns nil.
	ErrStop = errors.New("kv: stop iteration")
)

// Txn is a single transaction. It is not safe for concurrent use.
type Txn interface {
	// Get returns the value stored under key or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)

	// Set stores value under key.
	Set(key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Iterate calls fn for every key with the given prefix in ascending
	// byte order. Key and value are owned by the callee.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// Backend is a transactional key-value engine.
type Backend interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Txn) error) error

	// Update runs fn in a read-write transaction and commits if fn returns nil.
	Update(ctx context.Context, fn func(Txn) error) error

	// Close releases every resource held by the backend.
	Close() error
}
