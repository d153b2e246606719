package posts

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrValidation marks a post or option rejected before persistence.
	ErrValidation = errors.New("validation failed")

	// ErrParentNotFound marks a vote option whose declared parent post is
	// not indexed yet.
	ErrParentNotFound = errors.New("parent post not found")

	// ErrDuplicateOptionIndex marks a vote whose options declare the same
	// index more than once.
	ErrDuplicateOptionIndex = errors.New("duplicate option index")
)

// HashMismatchError is returned when a vote's declared options hash does not
// match the hash computed from its option contents.
type HashMismatchError struct {
	Declared string
	Computed string
}

func (e HashMismatchError) Error() string {
	return fmt.Sprintf("options hash mismatch: declared %q, computed %q", e.Declared, e.Computed)
}
