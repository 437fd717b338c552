package centralfree

import "errors"

// ErrOutOfMemory is for callers that wrap CacheSpan's (nil, false)
// result in an error-returning API. Nothing in this package returns
// it: the core CacheSpan contract stays a plain bool per §7
// (out-of-memory is not fatal and the caller decides whether to retry
// or fail up).
var ErrOutOfMemory = errors.New("centralfree: page heap out of memory")
