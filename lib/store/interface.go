package store

import (
	"fmt"

	"github.com/tobgro/streamstore/lib/cache"
)

// --------------------------------------------------------------------------
// Window Types
// --------------------------------------------------------------------------

// Window is a half-open, fixed-size time interval [Start, End).
type Window struct {
	Start int64 // Inclusive lower bound
	End   int64 // Exclusive upper bound
}

// WindowedKey identifies one (domain key, window) pair, the externally
// observed unit of a windowed store.
type WindowedKey struct {
	Key    []byte
	Window Window
}

// --------------------------------------------------------------------------
// Processing Context
// --------------------------------------------------------------------------

// Context is the processing context a window store is initialized with.
// It supplies the record context of the record currently being processed;
// the store snapshots it on every write and attaches it to the cached
// entry for downstream propagation.
type Context interface {
	// RecordContext returns the context of the record currently being
	// processed.
	RecordContext() cache.RecordContext
}

// --------------------------------------------------------------------------
// Iterators
// --------------------------------------------------------------------------

// WindowIterator walks an ascending sequence of (timestamp, value) pairs
// for one domain key. Timestamp and Value are only valid after Next has
// returned true. Closing the iterator releases the underlying sources.
type WindowIterator interface {
	// Next advances to the next pair and reports whether one exists.
	Next() bool
	// Timestamp returns the window start timestamp at the current position.
	Timestamp() int64
	// Value returns the value at the current position.
	Value() []byte
	// Err returns the first error the iterator encountered, if any.
	Err() error
	// Close releases the resources held by the iterator.
	Close() error
}

// --------------------------------------------------------------------------
// Flush Listener
// --------------------------------------------------------------------------

// FlushListener receives one notification per key-window whose value
// changed, at the moment the change becomes durable (on flush or on
// eviction from the cache). oldValue is the last value the listener was
// told about for that key-window, or nil if none; newValue is nil when
// the change is a deletion. Errors returned by the listener propagate
// unmodified to the caller that triggered the flush or eviction.
type FlushListener interface {
	OnChange(key WindowedKey, newValue, oldValue []byte) error
}

// FlushListenerFunc adapts a plain function to the FlushListener interface.
type FlushListenerFunc func(key WindowedKey, newValue, oldValue []byte) error

// OnChange implements FlushListener.
func (f FlushListenerFunc) OnChange(key WindowedKey, newValue, oldValue []byte) error {
	return f(key, newValue, oldValue)
}

// NoopListener is a FlushListener that discards all notifications. It is
// the default listener of a window store.
type NoopListener struct{}

// OnChange implements FlushListener.
func (NoopListener) OnChange(WindowedKey, []byte, []byte) error { return nil }

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// WindowStore is the interface for a windowed key-value store. All write
// operations return only an error (nil on success), while read operations
// return the requested data along with an error (nil on success).
//
// A store starts uninitialized; Init transitions it to the open state
// exactly once, and Close transitions it to the terminal closed state.
// Any operation outside the open state fails with an *Error carrying
// RetCInvalidState.
type WindowStore interface {
	// Name returns the name of the store. It doubles as the store's cache
	// namespace.
	Name() string
	// Init opens the store within the given processing context.
	Init(ctx Context) error
	// SetFlushListener registers the listener notified of durable changes.
	// It replaces any previously registered listener.
	SetFlushListener(listener FlushListener)
	// Put writes a value for a key at the timestamp of the record
	// currently being processed. A nil value deletes the key at that
	// window.
	Put(key, value []byte) error
	// PutAt writes a value for a key at an explicit timestamp.
	PutAt(key, value []byte, timestamp int64) error
	// Fetch returns an ascending iterator over the values of a key with
	// window starts in [timeFrom, timeTo], merging cached and persisted
	// data. Each timestamp occurs at most once.
	Fetch(key []byte, timeFrom, timeTo int64) (WindowIterator, error)
	// Flush writes every dirty cached entry through to the persistent
	// store and notifies the flush listener of the changes.
	Flush() error
	// Close flushes, clears the store's cache namespace, and closes the
	// persistent store handle.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. Listener and persistence errors are never wrapped
// in this type; they propagate verbatim.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCInvalidState:
		errorCode = "InvalidState"
	case RetCEncoding:
		errorCode = "Encoding"
	case RetCPersistence:
		errorCode = "Persistence"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("WindowStoreError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new WindowStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsInvalidState reports whether err is a WindowStoreError carrying the
// RetCInvalidState code.
func IsInvalidState(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == RetCInvalidState
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess       RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                // 1: Operation failed due to an internal error.
	RetCInvalidState                 // 2: Operation invoked outside the open state.
	RetCEncoding                     // 3: Key could not be encoded.
	RetCPersistence                  // 4: Persistent store reported a failure.
)
