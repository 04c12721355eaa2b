package models

import "errors"

var (
	// ErrNotFound is returned when a file record or chunk does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPluginNotFound is returned when a plugin id is not registered.
	ErrPluginNotFound = errors.New("embedding plugin not found")
	// ErrDuplicatePlugin is returned when registering an id twice.
	ErrDuplicatePlugin = errors.New("embedding plugin already registered")
	// ErrPluginUnavailable is returned by plugins that cannot reach their provider.
	ErrPluginUnavailable = errors.New("embedding plugin unavailable")
	// ErrInvalidPath is returned for paths that escape the notebook root.
	ErrInvalidPath = errors.New("invalid notebook path")
	// ErrEmptyQuery is returned for blank recall queries.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrInvalidRange is returned when a line range lies outside a file.
	ErrInvalidRange = errors.New("invalid line range")
)
