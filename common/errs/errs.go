package errs

// ErrorKind identifies a kind of internal error.
// fully support for errors.Is and errors.As.
type ErrorKind string

const (
	// NotFound is returned when a requested item is not found.
	NotFound           = ErrorKind("Not Found")
	InvalidArgument    = ErrorKind("Invalid Argument")
	Unsupported        = ErrorKind("Unsupported")
	Timeout            = ErrorKind("Timeout")
	InternalError      = ErrorKind("Internal Error")
	ClosedResource     = ErrorKind("Closed Resource")
	Duplicate          = ErrorKind("Duplicate")
	SomethingWentWrong = ErrorKind("Something Went Wrong")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}
