package buffer

import "errors"

// ErrNotFound is returned by Get when key is absent in both the overlay and
// every underlying layer.
var ErrNotFound = errors.New("buffer: key not found")
