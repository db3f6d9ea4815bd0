package capability

import "errors"

// Registry construction errors. Check with errors.Is().
var (
	// ErrUnknownType is returned when a table entry uses a tag outside the closed set.
	ErrUnknownType = errors.New("capability: unknown module type")

	// ErrInvalidDescriptor is returned when a descriptor has an empty ID or path,
	// or an unsupported kind.
	ErrInvalidDescriptor = errors.New("capability: invalid descriptor")

	// ErrDuplicateCapability is returned when a type declares the same capability twice.
	ErrDuplicateCapability = errors.New("capability: duplicate capability")
)
