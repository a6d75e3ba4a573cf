package cache

import "errors"

// ErrClosed is returned by a cache that has been closed.
var ErrClosed = errors.New("cache closed")
