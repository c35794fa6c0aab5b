package models

import "errors"

var (
	// ErrEmptyFiling is returned when a filing has no markup at all.
	ErrEmptyFiling = errors.New("empty filing")

	// ErrUnknownBlockKind means a stage received a block variant it cannot handle.
	ErrUnknownBlockKind = errors.New("unknown block kind")

	// ErrInvariantViolation signals a chunking bug: lost, duplicated or
	// reordered content, or a broken chunk index sequence.
	ErrInvariantViolation = errors.New("chunk invariant violation")

	// ErrInvalidConfig is returned by constructors given unusable settings.
	ErrInvalidConfig = errors.New("invalid config")
)
