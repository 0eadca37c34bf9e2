package file

import "errors"

var (
	// ErrFileNotFound signals that the file could not be located.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidMeta rejects meta payloads that are not valid JSON.
	ErrInvalidMeta = errors.New("meta is not valid json")
	// ErrInvalidName rejects empty file names.
	ErrInvalidName = errors.New("invalid file name")
)
