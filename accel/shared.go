package accel

import (
	"sync"

	"github.com/pkg/errors"
)

// SharedRuntime lets several stream workers share one runtime. Engine deserialization and
// context creation are serialized; per-frame execution is not touched by the lock.
type SharedRuntime struct {
	mu      sync.Mutex
	newFn   func() (Runtime, error)
	runtime Runtime
	refs    int
}

// NewSharedRuntime wraps a runtime constructor. The runtime is created on the first Acquire
// and closed when the last reference is released.
func NewSharedRuntime(newFn func() (Runtime, error)) *SharedRuntime {
	return &SharedRuntime{newFn: newFn}
}

// Acquire returns a reference to the shared runtime. Every successful Acquire must be paired
// with a Close on the returned handle.
//
// Returns:
//   - Runtime: A handle whose DeserializeEngine is serialized with other holders.
//   - error: An error if the runtime could not be created.
func (s *SharedRuntime) Acquire() (Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		rt, err := s.newFn()
		if err != nil {
			return nil, errors.Wrap(err, "create shared runtime")
		}
		s.runtime = rt
	}
	s.refs++
	return &sharedRef{owner: s}, nil
}

// Refs reports the number of live references.
func (s *SharedRuntime) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

func (s *SharedRuntime) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	if s.refs > 0 {
		return nil
	}
	rt := s.runtime
	s.runtime = nil
	s.refs = 0
	if rt == nil {
		return nil
	}
	return rt.Close()
}

type sharedRef struct {
	owner  *SharedRuntime
	closed bool
}

func (r *sharedRef) DeserializeEngine(blob []byte) (Engine, error) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	if r.closed || r.owner.runtime == nil {
		return nil, errors.New("shared runtime released")
	}
	engine, err := r.owner.runtime.DeserializeEngine(blob)
	if err != nil {
		return nil, err
	}
	return &lockedEngine{Engine: engine, mu: &r.owner.mu}, nil
}

func (r *sharedRef) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.owner.release()
}

// lockedEngine serializes context creation on engines handed out by a SharedRuntime.
type lockedEngine struct {
	Engine
	mu *sync.Mutex
}

func (e *lockedEngine) NewExecutionContext() (ExecutionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Engine.NewExecutionContext()
}
