package resource

import "github.com/worldlens/worldlens/internal/worlddb"

// Common resource errors. They are the same values as the worlddb sentinels
// so callers can match either with errors.Is.
var (
	ErrNotFound   = worlddb.ErrNotFound
	ErrOpenFailed = worlddb.ErrOpenFailed
)

// OpenError describes a failed gateway open. Cause wraps ErrNotFound or
// ErrOpenFailed.
type OpenError struct {
	Path     string
	Resource Kind
	Cause    error
}

func (e *OpenError) Error() string {
	return "open " + e.Resource.String() + " " + e.Path + ": " + e.Cause.Error()
}

func (e *OpenError) Unwrap() error {
	return e.Cause
}

func newOpenError(path string, kind Kind, cause error) *OpenError {
	return &OpenError{Path: path, Resource: kind, Cause: cause}
}
