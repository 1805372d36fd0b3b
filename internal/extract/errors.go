package extract

import (
	"errors"
	"fmt"
)

// ErrUnsafeName is wrapped by OutputWriteError when an image name would
// place the output file outside the output directory.
var ErrUnsafeName = errors.New("image name contains a path separator")

// DocumentOpenError reports that the input could not be opened as a PDF.
type DocumentOpenError struct {
	Path string
	Err  error
}

func (e *DocumentOpenError) Error() string {
	return fmt.Sprintf("open document %s: %v", e.Path, e.Err)
}

func (e *DocumentOpenError) Unwrap() error {
	return e.Err
}

// PageIndexError reports a page index outside [0, NumPages).
type PageIndexError struct {
	Index    int
	NumPages int
	Err      error
}

func (e *PageIndexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("page %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("page %d out of range: document has %d page(s)", e.Index, e.NumPages)
}

func (e *PageIndexError) Unwrap() error {
	return e.Err
}

// OutputWriteError reports a failure creating or writing an output file.
type OutputWriteError struct {
	Ordinal int
	Path    string
	Err     error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("write image %d to %s: %v", e.Ordinal, e.Path, e.Err)
}

func (e *OutputWriteError) Unwrap() error {
	return e.Err
}

// ImageReadError reports an image the document could not produce, such
// as a corrupt stream or an unsupported filter.
type ImageReadError struct {
	Ordinal int
	Err     error
}

func (e *ImageReadError) Error() string {
	return fmt.Sprintf("read image %d: %v", e.Ordinal, e.Err)
}

func (e *ImageReadError) Unwrap() error {
	return e.Err
}
