package output

import "errors"

// ErrDirNotEmpty is returned by SaveToDir when the destination
// directory already contains entries.
var ErrDirNotEmpty = errors.New("output: destination directory is not empty")

// ErrNotADir is returned by SaveToDir when the destination path exists
// but isn't a directory.
var ErrNotADir = errors.New("output: destination path is not a directory")
