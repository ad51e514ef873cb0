package access

import "errors"

var (
	// ErrAccessDenied is returned when a subject's level is below the required one.
	ErrAccessDenied = errors.New("access: access denied")

	// ErrNotAuthorized is returned when a subject holds no grant on the resource.
	ErrNotAuthorized = errors.New("access: no grant on resource")

	// ErrNotFound is returned when a grant or subject does not exist.
	ErrNotFound = errors.New("access: not found")

	// ErrLastOwner is returned when a change would leave a resource without an owner.
	ErrLastOwner = errors.New("access: cannot remove the only owner")

	// ErrInvalidLevel is returned for unknown access level values.
	ErrInvalidLevel = errors.New("access: invalid level")

	// ErrInvalidResource is returned for unknown resource kinds or ids.
	ErrInvalidResource = errors.New("access: invalid resource")
)

// IsForbidden reports whether err should be surfaced as HTTP 403
func IsForbidden(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrNotAuthorized)
}
