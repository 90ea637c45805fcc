package accel

import (
	"errors"
	"fmt"
)

// Scope owns a set of handles and releases them in reverse acquisition order, so a context
// is always closed before its engine and an engine before its runtime.
type Scope struct {
	handles []handle
}

type handle struct {
	name    string
	release func() error
}

// Own registers a release function for a handle acquired after every handle already owned.
func (s *Scope) Own(name string, release func() error) {
	s.handles = append(s.handles, handle{name: name, release: release})
}

// Len reports the number of owned handles.
func (s *Scope) Len() int { return len(s.handles) }

// Close releases every handle, last acquired first. All handles are released even if some
// fail; the failures are joined.
func (s *Scope) Close() error {
	var errs []error
	for i := len(s.handles) - 1; i >= 0; i-- {
		h := s.handles[i]
		if err := h.release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", h.name, err))
		}
	}
	s.handles = nil
	return errors.Join(errs...)
}
