package chainfs

import "errors"

// File system errors. Operations wrap these with context; test for them with
// errors.Is.
var (
	ErrInvalidName      = errors.New("invalid file name")
	ErrExists           = errors.New("file exists")
	ErrNotFound         = errors.New("no such file")
	ErrFileInUse        = errors.New("file in use")
	ErrCapacity         = errors.New("file table full")
	ErrTooManyOpenFiles = errors.New("too many open files")
	ErrOutOfSpace       = errors.New("no space left on device")
	ErrInvalidHandle    = errors.New("bad file handle")
	ErrInvalidOffset    = errors.New("offset out of range")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrAlreadyMounted   = errors.New("file system already mounted")
)

// Device errors.
var (
	ErrIO          = errors.New("i/o error")
	ErrOutOfRange  = errors.New("block or length out of range")
	ErrNotMounted  = errors.New("device not open")
	ErrAlreadyOpen = errors.New("device already open")
)
