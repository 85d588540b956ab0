package transport

import "errors"

// ErrTransient wraps classified transport failures that callers should
// retry rather than treat as a protocol violation: deadline exceeded,
// unavailable, or canceled.
var ErrTransient = errors.New("transport: transient failure")
