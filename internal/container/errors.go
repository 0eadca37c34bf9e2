package container

import "errors"

var (
	// ErrContainerNotFound indicates the requested container does not exist for the user.
	ErrContainerNotFound = errors.New("container not found")
	// ErrNameExists is returned when a user attempts to create a duplicate container name.
	ErrNameExists = errors.New("container name already exists")
	// ErrInvalidName rejects empty names or names with unsupported characters.
	ErrInvalidName = errors.New("invalid container name")
)
