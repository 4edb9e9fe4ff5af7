/*
Package rerrors holds the resolver's sentinel error kinds. They live in their own leaf
package, rather than in the root stubresolver package, so that internal/transport and
internal/orchestrator can classify and compare errors with errors.Is without importing the root
package (which itself imports both of those).

The root package re-exports each of these under the same name for public API callers, following the
"me + ':...'" error-string prefix convention used throughout this module, but as wrapped sentinels
(%w) so errors.Is/errors.As work across the package boundary.
*/
package rerrors

import "errors"

var (
	// ErrTimeout is a per-packet timeout, consumed internally unless it becomes terminal
	// because no server has anything left to try.
	ErrTimeout = errors.New("stubresolver: per-packet timeout")

	// ErrClientTimeout means the client's hard_deadline was exceeded. Always terminal.
	ErrClientTimeout = errors.New("stubresolver: client query timeout")

	// ErrNXDomain is an authoritative denial. Always terminal, never retried.
	ErrNXDomain = errors.New("stubresolver: NXDOMAIN")

	// ErrResourceExhausted is a transient local resource failure (e.g. file descriptor limits).
	// The transport that raised it is retained in the schedule rather than demoted.
	ErrResourceExhausted = errors.New("stubresolver: resource exhausted")

	// ErrTransport is any other transport failure. The offending transport is dropped from the
	// remaining schedule and sunk to the bottom of the ranking.
	ErrTransport = errors.New("stubresolver: transport error")

	// ErrValidation is raised by the validator hand-off. Always terminal.
	ErrValidation = errors.New("stubresolver: DNSSEC validation error")

	// ErrArgument is a bad configuration value or a bad argument to SendAsync. Reported
	// synchronously without consulting any transport.
	ErrArgument = errors.New("stubresolver: argument error")

	// ErrResolverClosed is raised on every live client query by Close().
	ErrResolverClosed = errors.New("stubresolver: resolver closed")

	// ErrInternal marks an invariant violation (duplicate schedule timestamps, a stale sub_id
	// echoed back by a transport). It is not expected to surface to clients in normal operation.
	ErrInternal = errors.New("stubresolver: internal error")
)
