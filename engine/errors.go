package engine

import (
	"errors"

	"github.com/facebookgo/stackerr"

	"github.com/gophercache/slabengine/cache"
)

// Result is the ENGINE_* response-code taxonomy from spec.md section 7,
// returned by Engine operations alongside a Go error: the cache package
// sentinel itself for a recognized failure, or a stackerr-wrapped error
// for an unrecognized one.
type Result int

const (
	Success Result = iota
	KeyNotFound
	KeyExists
	TooBig
	OutOfMemory
	NotStored
	InvalidValue
	NotSupported
	Failed
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case KeyNotFound:
		return "KEY_ENOENT"
	case KeyExists:
		return "KEY_EEXISTS"
	case TooBig:
		return "E2BIG"
	case OutOfMemory:
		return "ENOMEM"
	case NotStored:
		return "NOT_STORED"
	case InvalidValue:
		return "EINVAL"
	case NotSupported:
		return "ENOTSUP"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// resultFor maps a cache package sentinel error onto its ENGINE_* result
// code, per spec.md section 7's taxonomy. Unrecognized errors map to
// Failed, wrapped with stackerr so the original call site survives in any
// logged trace.
func resultFor(err error) (Result, error) {
	switch {
	case err == nil:
		return Success, nil
	case errors.Is(err, cache.ErrNotFound):
		return KeyNotFound, err
	case errors.Is(err, cache.ErrExists):
		return KeyExists, err
	case errors.Is(err, cache.ErrTooBig):
		return TooBig, err
	case errors.Is(err, cache.ErrOutOfMemory):
		return OutOfMemory, err
	case errors.Is(err, cache.ErrNotStored):
		return NotStored, err
	case errors.Is(err, cache.ErrInvalidValue):
		return InvalidValue, err
	default:
		return Failed, stackerr.Wrap(err)
	}
}
