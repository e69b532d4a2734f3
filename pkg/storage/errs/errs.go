// Package errs holds the errors shared by the storage backends.
package errs

import "errors"

// ErrNotFound marks a missing object key.
var ErrNotFound = errors.New("object not found")
