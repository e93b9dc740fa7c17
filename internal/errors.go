package internal

import (
	"errors"
	"fmt"
)

var (
	ErrPaused    = errors.New("run paused")
	ErrCancelled = errors.New("run cancelled")
)

type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field      string
	Identifier string
	Title      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing %s", e.Field)
}

type FatalApplyError struct {
	ExternalID string
	Err        error
}

func (e *FatalApplyError) Error() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("apply aborted: %v", e.Err)
	}
	return fmt.Sprintf("apply aborted at external id %s: %v", e.ExternalID, e.Err)
}

func (e *FatalApplyError) Unwrap() error { return e.Err }

type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required env var: %s", e.Setting)
}

// IsStop reports whether err is a cooperative pause or cancel.
func IsStop(err error) bool {
	return errors.Is(err, ErrPaused) || errors.Is(err, ErrCancelled)
}
