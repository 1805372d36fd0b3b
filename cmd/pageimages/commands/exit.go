package commands

import (
	"errors"
	"fmt"

	"github.com/novvoo/go-pageimages/internal/extract"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitUsage        = 1
	ExitDocumentOpen = 2
	ExitPageIndex    = 3
	ExitOutputWrite  = 4
	ExitImageRead    = 5
)

// usageError marks invalid arguments or configuration
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func errNegativePage(page int) error {
	return fmt.Errorf("page must be zero or greater, got %d", page)
}

// ExitCode maps an error returned by the command tree to a process exit
// code. Errors not raised by extraction, such as bad flags, are usage
// errors.
func ExitCode(err error) int {
	var (
		openErr  *extract.DocumentOpenError
		pageErr  *extract.PageIndexError
		writeErr *extract.OutputWriteError
		readErr  *extract.ImageReadError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &openErr):
		return ExitDocumentOpen
	case errors.As(err, &pageErr):
		return ExitPageIndex
	case errors.As(err, &writeErr):
		return ExitOutputWrite
	case errors.As(err, &readErr):
		return ExitImageRead
	}
	return ExitUsage
}
