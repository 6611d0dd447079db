package sensorpipe

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks programming errors detected at build or
	// registration time. They are fatal for the host program.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotConnected is returned by sinks whose transport is down.
	ErrNotConnected = errors.New("sink not connected")
	// ErrRejected is returned when the remote side refuses a value.
	ErrRejected = errors.New("value rejected by remote")
	// ErrInvalidReading is returned by sources producing out-of-range data.
	ErrInvalidReading = errors.New("invalid reading")
	// ErrStaleData is returned by sources when the device has no new sample.
	ErrStaleData = errors.New("stale data")
)

// ConfigError wraps ErrConfiguration with a formatted reason.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// SourceError reports a failed sample. The cycle it belongs to is skipped.
type SourceError struct {
	Pipeline string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("pipeline %s: source failure: %v", e.Pipeline, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// SinkError reports a failed delivery to a single sink.
type SinkError struct {
	Path string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Path, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
