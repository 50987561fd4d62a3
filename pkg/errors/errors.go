package errors

import "errors"

var (
	// ErrAuthFailure is returned by the user directory when a username is
	// unknown or the presented SSH public key does not match.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrConfigInvalid is returned at startup for a malformed or
	// semantically invalid configuration file. It is fatal.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrMetricsUnavailable marks a metrics.k8s.io API failure. The
	// auto-shutdown loop demotes it to a warning and substitutes an empty
	// metrics list rather than aborting the sweep.
	ErrMetricsUnavailable = errors.New("metrics unavailable")

	// ErrExecFailure marks a failed in-pod exec (e.g. the TCP-connection
	// probe). The auto-shutdown loop logs it and skips that pod for the
	// current tick.
	ErrExecFailure = errors.New("exec failed")
)
