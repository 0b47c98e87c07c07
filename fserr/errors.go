// Package fserr defines the sentinel error codes surfaced by the fat driver.
//
// Every exported operation in package fat returns one of these sentinels
// (or nil), optionally wrapped with extra context via WithMessage or Wrap.
// Callers should use errors.Is against the sentinels below rather than
// comparing strings.
package fserr

import "fmt"

// Code is a sentinel error. It is a named string type so that the zero value
// is never mistaken for a valid error and so that two Codes with the same
// text still compare equal (unlike two errors.New results).
type Code string

func (c Code) Error() string { return string(c) }

// WithMessage returns a new error that reports as "<c>: <message>" but still
// satisfies errors.Is(err, c).
func (c Code) WithMessage(message string) error {
	return &wrapped{message: fmt.Sprintf("%s: %s", string(c), message), cause: c}
}

// Wrap returns a new error that reports as "<c>: <err>" and satisfies both
// errors.Is(result, c) and errors.Is(result, err).
func (c Code) Wrap(err error) error {
	return &wrapped{message: fmt.Sprintf("%s: %s", string(c), err.Error()), cause: err, code: c}
}

type wrapped struct {
	message string
	cause   error
	code    Code
}

func (e *wrapped) Error() string { return e.message }

func (e *wrapped) Unwrap() []error {
	if e.code != "" && e.cause != nil {
		return []error{e.code, e.cause}
	}
	if e.cause != nil {
		return []error{e.cause}
	}
	return []error{e.code}
}

// The spec's error codes (§6 "Error codes surfaced" / §7 "Error handling
// design"). NoError is exposed for symmetry with the spec's vocabulary but
// Go code should simply return nil instead of this sentinel.
const (
	NoError              = Code("no error")
	LFNTooLong           = Code("long file name exceeds 194 UCS-2 characters")
	InsufficientMemory   = Code("insufficient memory")
	PathNotFound         = Code("path not found")
	FileNotFound         = Code("file not found")
	DiskFull             = Code("no free clusters available")
	DiskAccessError      = Code("disk access error")
	FATBroken            = Code("FAT chain broken: premature end of chain")
	DirentryFull         = Code("no free directory entry slots available")
	AlreadyExists        = Code("file or directory already exists")
	InternalError        = Code("internal driver error")
	NotADirectory        = Code("not a directory")
	IsADirectory         = Code("is a directory")
	NotSupported         = Code("operation not supported")
	InvalidArgument      = Code("invalid argument")
	InvalidFileHandle    = Code("invalid or closed file handle")
	DirectoryNotEmpty    = Code("directory not empty")
	NameTooLong          = Code("name too long")
	VolumeNotAttached    = Code("volume not attached")
	ReadOnlyFileSystem   = Code("read-only file system")
	TooManyOpenFiles     = Code("too many open files")
)
