// Package errors defines the sentinel error kinds shared across openbag's
// recorder and player pipelines, wrapped with fmt.Errorf at call sites so
// errors.Is continues to resolve them.
package errors

import sterrors "errors"

var (
	// ErrConfig marks missing or invalid configuration at startup. Fatal to Start.
	ErrConfig = sterrors.New("openbag: invalid configuration")

	// ErrSchema marks a schema source that could not be found or resolved, or
	// whose descriptor set could not be serialized. Fatal to topic registration.
	ErrSchema = sterrors.New("openbag: schema resolution failed")

	// ErrIO marks a log file open/write failure.
	ErrIO = sterrors.New("openbag: log file i/o failed")

	// ErrBackpressureDrop marks a record refused because the buffer was full
	// and Push timed out. Counted, not retried.
	ErrBackpressureDrop = sterrors.New("openbag: buffer backpressure drop")

	// ErrShutdownDrop marks a record refused because the component is
	// stopping. Expected, not logged as an error.
	ErrShutdownDrop = sterrors.New("openbag: dropped during shutdown")

	// ErrPublish marks a bus publish that returned false during replay.
	ErrPublish = sterrors.New("openbag: publish failed")
)
