package cache

import "strconv"

// Operation identifies one of the store semantics from spec.md section
// 4.5's ADD/REPLACE/SET/CAS/APPEND/PREPEND table.
type Operation int

const (
	OpAdd Operation = iota + 1
	OpSet
	OpReplace
	OpAppend
	OpPrepend
	OpCas
)

// StoreItem implements the dispatcher table in spec.md section 4.5 for a
// caller-owned candidate item it (key/flags/exptime/value already set,
// not yet linked). It never releases the caller's reference to it: on
// success it is linked (or, for APPEND/PREPEND, composed into a fresh
// composite item that is linked in its place), and on success or failure
// the caller is still responsible for releasing it.
func (s *Store) StoreItem(it *Item, op Operation) error {
	old, err := s.Get(it.Key)
	exists := err == nil
	if exists {
		defer s.Release(old)
	}

	switch op {
	case OpAdd:
		if exists {
			s.Touch(old)
			return ErrNotStored
		}
		s.Link(it)
		return nil

	case OpReplace:
		if !exists {
			return ErrNotStored
		}
		s.Replace(old, it)
		return nil

	case OpSet:
		if exists {
			s.Replace(old, it)
		} else {
			s.Link(it)
		}
		return nil

	case OpCas:
		if !exists {
			return ErrNotFound
		}
		if it.Cas != old.Cas {
			return ErrExists
		}
		s.Replace(old, it)
		return nil

	case OpAppend, OpPrepend:
		if !exists {
			return ErrNotStored
		}
		if it.Cas != 0 && it.Cas != old.Cas {
			return ErrExists
		}
		composite, cerr := s.composeConcat(old, it, op == OpAppend)
		if cerr != nil {
			return ErrNotStored
		}
		s.Replace(old, composite)
		// composite was allocated (and so refcounted) internally by the
		// dispatcher, not by the caller; release that temporary
		// reference now that it is linked, mirroring the original
		// engine's do_item_remove(new_it) at the end of do_store_item.
		s.Release(composite)
		return nil

	default:
		return ErrNotStored
	}
}

// composeConcat builds the APPEND/PREPEND composite item: a fresh
// allocation sized new.nbytes+old.nbytes-2 (dropping one trailing CRLF),
// laid out old-then-new for APPEND and new-then-old for PREPEND, per
// spec.md section 4.5.
func (s *Store) composeConcat(old, add *Item, isAppend bool) (*Item, error) {
	total := len(add.Value) + len(old.Value) - 2
	composite, err := s.Allocate(old.Key, add.Flags, old.Exptime, total)
	if err != nil {
		return nil, err
	}
	if isAppend {
		copy(composite.Value, old.Value)
		copy(composite.Value[len(old.Value)-2:], add.Value)
	} else {
		copy(composite.Value, add.Value)
		copy(composite.Value[len(add.Value)-2:], old.Value)
	}
	return composite, nil
}

// Arithmetic implements INCR/DECR, per spec.md section 4.5. It returns the
// resulting CAS token and numeric value on success.
func (s *Store) Arithmetic(key []byte, increment, create bool, delta, initial uint64, exptime uint32, casIn uint64) (casOut uint64, result uint64, err error) {
	it, err := s.GetNoCheck(key)
	if err != nil {
		if !create {
			return 0, 0, ErrNotFound
		}
		return s.createInitial(key, initial, exptime)
	}
	defer s.Release(it)

	if casIn != 0 && casIn != it.Cas {
		return 0, 0, ErrExists
	}

	value, perr := parseUintValue(it.Value)
	if perr != nil {
		return 0, 0, ErrInvalidValue
	}

	if increment {
		value += delta // wraps modulo 2^64, per spec.md section 4.5.
	} else if delta < value {
		value -= delta
	} else {
		value = 0
	}

	encoded := strconv.FormatUint(value, 10)
	needed := len(encoded) + 2

	if needed <= len(it.Value) {
		copy(it.Value, encoded)
		for i := len(encoded); i < len(it.Value)-2; i++ {
			it.Value[i] = ' '
		}
		it.Value[len(it.Value)-2] = '\r'
		it.Value[len(it.Value)-1] = '\n'
		if s.useCas {
			s.casCounter++
			it.Cas = s.casCounter
		}
		return it.Cas, value, nil
	}

	newIt, aerr := s.Allocate(key, it.Flags, it.Exptime, needed)
	if aerr != nil {
		return 0, 0, aerr
	}
	copy(newIt.Value, encoded)
	newIt.Value[needed-2] = '\r'
	newIt.Value[needed-1] = '\n'
	if serr := s.StoreItem(newIt, OpSet); serr != nil {
		s.Release(newIt)
		return 0, 0, serr
	}
	casOut = newIt.Cas
	s.Release(newIt)
	return casOut, value, nil
}

func (s *Store) createInitial(key []byte, initial uint64, exptime uint32) (uint64, uint64, error) {
	encoded := strconv.FormatUint(initial, 10) + "\r\n"
	newIt, err := s.Allocate(key, 0, exptime, len(encoded))
	if err != nil {
		return 0, 0, err
	}
	copy(newIt.Value, encoded)
	if serr := s.StoreItem(newIt, OpSet); serr != nil {
		s.Release(newIt)
		return 0, 0, serr
	}
	cas := newIt.Cas
	s.Release(newIt)
	return cas, initial, nil
}

// parseUintValue parses the leading run of ASCII digits in b as an
// unsigned 64-bit decimal, matching the original engine's safe_strtoull
// (which tolerates the trailing CRLF, and any padding spaces left behind
// by a previous in-place arithmetic rewrite).
func parseUintValue(b []byte) (uint64, error) {
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, ErrInvalidValue
	}
	v, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0, ErrInvalidValue
	}
	return v, nil
}
