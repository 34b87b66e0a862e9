package shared

import "errors"

var (
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates input rejected before any write.
	ErrInvalidArgument = errors.New("invalid argument")
)

// UserSafeMessage hides internals behind a generic message unless the
// error is one callers are allowed to see verbatim.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidArgument):
		return err.Error()
	default:
		return "internal error, please retry"
	}
}
