package params

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/model"
)

func TestNewStoreRejectsInvalid(t *testing.T) {
	if _, err := NewStore(model.Parameters{}); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("NewStore(zero) error = %v, want ErrInvalidParameters", err)
	}
	s, err := NewStore(model.DefaultParameters())
	if err != nil {
		t.Fatalf("NewStore(default): %v", err)
	}
	if got := s.Parameters(); got != model.DefaultParameters() {
		t.Fatalf("Parameters() = %+v", got)
	}
}

func TestSetValidatesAndKeepsOldValueOnError(t *testing.T) {
	s, _ := NewStore(model.DefaultParameters())

	bad := model.DefaultParameters()
	bad.WaitDuration = 0
	if err := s.Set(bad); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("Set(bad) error = %v, want ErrInvalidParameters", err)
	}
	if s.Parameters() != model.DefaultParameters() {
		t.Fatalf("rejected Set changed the store")
	}

	good := model.Parameters{Speed: 2, MoveDuration: time.Second, WaitDuration: 2 * time.Second}
	if err := s.Set(good); err != nil {
		t.Fatalf("Set(good): %v", err)
	}
	if s.Parameters() != good {
		t.Fatalf("Parameters() = %+v, want %+v", s.Parameters(), good)
	}
}

func TestAdjustNotifiesSubscribers(t *testing.T) {
	s, _ := NewStore(model.DefaultParameters())
	var changes [][2]model.Parameters
	s.Subscribe(func(old, updated model.Parameters) {
		changes = append(changes, [2]model.Parameters{old, updated})
	})

	if err := s.AdjustMove(Step); err != nil {
		t.Fatalf("AdjustMove: %v", err)
	}
	if err := s.AdjustWait(-Step); err != nil {
		t.Fatalf("AdjustWait: %v", err)
	}
	if err := s.AdjustWait(-time.Hour); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("AdjustWait below zero error = %v", err)
	}
	// An update that changes nothing is not reported.
	if err := s.Update(func(*model.Parameters) {}); err != nil {
		t.Fatalf("Update(noop): %v", err)
	}

	if len(changes) != 2 {
		t.Fatalf("subscriber saw %d changes, want 2", len(changes))
	}
	if changes[0][1].MoveDuration != model.DefaultMoveDuration+Step {
		t.Fatalf("first change = %+v", changes[0][1])
	}
	if changes[1][1].WaitDuration != model.DefaultWaitDuration-Step {
		t.Fatalf("second change = %+v", changes[1][1])
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s, _ := NewStore(model.DefaultParameters())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.AdjustMove(time.Millisecond)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Parameters()
			}
		}()
	}
	wg.Wait()

	if got := s.Parameters().MoveDuration; got != model.DefaultMoveDuration+800*time.Millisecond {
		t.Fatalf("MoveDuration = %v after concurrent adjustments", got)
	}
}
