// Package params holds the live, operator-tunable simulation parameters.
package params

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/model"
)

// ErrInvalidParameters is returned when a parameter update is rejected.
var ErrInvalidParameters = errors.New("invalid simulation parameters")

// Step is the increment the dialog adjusts durations by.
const Step = 500 * time.Millisecond

// Store is a concurrency-safe latest-value holder. The simulation engine reads
// it once per tick; hosts write it whenever an operator retunes the line.
type Store struct {
	mu   sync.RWMutex
	cur  model.Parameters
	subs []func(old, updated model.Parameters)
}

// NewStore validates initial and returns a store holding it.
func NewStore(initial model.Parameters) (*Store, error) {
	if err := Validate(initial); err != nil {
		return nil, err
	}
	return &Store{cur: initial}, nil
}

// Validate checks that both durations and the speed are strictly positive.
func Validate(p model.Parameters) error {
	var errs []error
	if p.MoveDuration <= 0 {
		errs = append(errs, fmt.Errorf("move duration must be > 0, got %s", p.MoveDuration))
	}
	if p.WaitDuration <= 0 {
		errs = append(errs, fmt.Errorf("wait duration must be > 0, got %s", p.WaitDuration))
	}
	if p.Speed <= 0 {
		errs = append(errs, fmt.Errorf("speed must be > 0, got %g", p.Speed))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidParameters, errors.Join(errs...))
}

// Parameters returns the current values.
func (s *Store) Parameters() model.Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set replaces the current values after validating them.
func (s *Store) Set(p model.Parameters) error {
	return s.Update(func(cur *model.Parameters) { *cur = p })
}

// Update applies fn to a copy of the current values and stores the result if
// it validates. Subscribers are notified outside the lock.
func (s *Store) Update(fn func(*model.Parameters)) error {
	s.mu.Lock()
	old := s.cur
	next := old
	fn(&next)
	if err := Validate(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur = next
	subs := append([]func(old, updated model.Parameters){}, s.subs...)
	s.mu.Unlock()

	if next != old {
		for _, fn := range subs {
			fn(old, next)
		}
	}
	return nil
}

// Subscribe registers fn to be called after every effective change.
func (s *Store) Subscribe(fn func(old, updated model.Parameters)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// AdjustMove shifts the move duration by delta, refusing to drop to zero.
func (s *Store) AdjustMove(delta time.Duration) error {
	return s.Update(func(p *model.Parameters) { p.MoveDuration += delta })
}

// AdjustWait shifts the wait duration by delta, refusing to drop to zero.
func (s *Store) AdjustWait(delta time.Duration) error {
	return s.Update(func(p *model.Parameters) { p.WaitDuration += delta })
}
