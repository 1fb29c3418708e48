package cache

import "errors"

// Sentinel errors returned by the item store and dispatcher, matching the
// taxonomy in spec.md section 7. The engine facade maps these onto its
// ENGINE_* result codes with errors.Is.
var (
	// ErrTooBig means the requested item size exceeds the largest slab
	// class (spec.md section 4.4: "if id == 0 return TOO_BIG").
	ErrTooBig = errors.New("cache: item too large for any slab class")

	// ErrOutOfMemory means the allocator could not satisfy an allocation:
	// either eviction is disabled, or eviction and tail repair were tried
	// and still freed no chunk.
	ErrOutOfMemory = errors.New("cache: out of memory")

	// ErrNotFound means the key is absent or was lazily expired.
	ErrNotFound = errors.New("cache: key not found")

	// ErrExists means a CAS token did not match the stored item's
	// current CAS value.
	ErrExists = errors.New("cache: cas mismatch")

	// ErrNotStored means a precondition for the requested store
	// operation was not met (ADD-on-existing, REPLACE/APPEND/PREPEND-on-
	// missing, or an allocation failure while composing APPEND/PREPEND).
	ErrNotStored = errors.New("cache: not stored")

	// ErrInvalidValue means an arithmetic operation's stored value could
	// not be parsed as an unsigned 64-bit decimal.
	ErrInvalidValue = errors.New("cache: value is not a valid decimal number")
)
