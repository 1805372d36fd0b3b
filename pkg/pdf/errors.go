package pdf

import "errors"

var (
	// ErrNotPDF is returned when the data does not start with a PDF header
	// or carries no usable cross-reference information.
	ErrNotPDF = errors.New("not a PDF file")

	// ErrPageRange is returned for a page index outside the page tree.
	ErrPageRange = errors.New("page index out of range")

	// ErrPasswordRequired is returned when the document is encrypted and the
	// empty user password does not open it.
	ErrPasswordRequired = errors.New("document is encrypted")

	// ErrBadPassword is returned when the supplied password matches neither
	// the user nor the owner password.
	ErrBadPassword = errors.New("invalid password")

	// ErrUnsupportedFilter is returned for stream filters this package cannot
	// apply.
	ErrUnsupportedFilter = errors.New("unsupported filter")

	// ErrUnsupportedEncryption is returned for security handlers other than
	// the standard one, or for revisions it does not implement.
	ErrUnsupportedEncryption = errors.New("unsupported encryption")
)
