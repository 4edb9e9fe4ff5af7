package stubresolver

import (
	"github.com/markdingo/stubresolver/internal/rerrors"
)

// Sentinel errors a caller can test for with errors.Is against the err returned by Query,
// SendMessage, or delivered on a SendAsync sink.
var (
	ErrTimeout           = rerrors.ErrTimeout
	ErrClientTimeout     = rerrors.ErrClientTimeout
	ErrNXDomain          = rerrors.ErrNXDomain
	ErrResourceExhausted = rerrors.ErrResourceExhausted
	ErrTransport         = rerrors.ErrTransport
	ErrValidation        = rerrors.ErrValidation
	ErrArgument          = rerrors.ErrArgument
	ErrResolverClosed    = rerrors.ErrResolverClosed
	ErrInternal          = rerrors.ErrInternal
)
