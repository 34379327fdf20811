package blobfs

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers branch with [errors.Is]; every error returned by this
// module wraps at most one of the base sentinels below plus its original cause.
var (
	ErrInvalidPath       = errors.New("invalid path")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrNotDirectory      = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrUnsupported       = errors.New("unsupported operation")
	ErrIllegalArgument   = errors.New("illegal argument")
	ErrIllegalRelativize = errors.New("cannot relativize paths of mixed rootedness")
	ErrConditionNotMet   = errors.New("condition not met")
	ErrTransport         = errors.New("transport failure")
	ErrInvalidMark       = errors.New("resetting to invalid mark")

	ErrClosed           = errors.New("closed")
	ErrFileSystemClosed = fmt.Errorf("filesystem %w", ErrClosed)
	ErrChannelClosed    = fmt.Errorf("channel %w", ErrClosed)
	ErrStreamClosed     = fmt.Errorf("stream %w", ErrClosed)

	ErrIteratorInvalid     = errors.New("iterator exhausted or invalid")
	ErrNoSuchElement       = fmt.Errorf("no such element: %w", ErrIteratorInvalid)
	ErrIteratorAlreadyOpen = fmt.Errorf("iterator already obtained: %w", ErrIteratorInvalid)
)

// TransportError wraps a failure surfaced by the [ObjectStore] (or by a caller
// supplied callback invoked while talking to it). The cause stays reachable so
// errors.Is(err, ErrNotFound) keeps working through the wrapper.
type TransportError struct {
	Op        string
	Container string
	Key       string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Container == "" && e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Container, e.Key, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport in addition to whatever the cause matches.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// WrapTransport returns err wrapped in a [TransportError] unless it is nil or
// already one.
func WrapTransport(op, container, key string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Container: container, Key: key, Err: err}
}

// PathError records a failed filesystem operation and the path it targeted.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

// IsNotFound reports whether err represents a missing target.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClosed reports whether err was caused by a closed filesystem, channel or stream.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
