package model

import "errors"

// Failure classes. Callers match them with errors.Is.
var (
	ErrNetwork  = errors.New("network failure")
	ErrFormat   = errors.New("format failure")
	ErrStorage  = errors.New("storage failure")
	ErrNotFound = errors.New("not found")
)
