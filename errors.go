package cqf

import "errors"

// Sentinel errors returned by filter operations. Callers should compare
// against these with errors.Is rather than inspecting error strings.
var (
	ErrInvalidArguments = errors.New("cqf: invalid arguments")
	ErrFileError        = errors.New("cqf: file error")
	ErrMmapError        = errors.New("cqf: mmap error")
	ErrInvalidFile      = errors.New("cqf: invalid file")
	ErrInvalidSize      = errors.New("cqf: invalid size")
	ErrFilled           = errors.New("cqf: filter is filled")
)
