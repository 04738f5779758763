package engine

import (
	"context"
	"sync"
)

// Stub is a scriptable Engine for tests.
//
// By default it echoes a canned reply. Set Reply/Err to script the
// outcome, or Block to make Generate wait until the context is cancelled
// or Release is called — useful for exercising in-flight turn behavior.
type Stub struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Block   bool
	release chan struct{}
	calls   []string
}

// NewStub returns a Stub that replies with reply.
func NewStub(reply string) *Stub {
	return &Stub{Reply: reply, release: make(chan struct{})}
}

// Generate implements Engine.
func (s *Stub) Generate(ctx context.Context, _ Context, text, _ string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	block := s.Block
	reply, err := s.Reply, s.Err
	release := s.release
	s.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
		}
	}

	if err != nil {
		return "", err
	}
	return reply, nil
}

// Release unblocks all pending and future blocked Generate calls.
func (s *Stub) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

// Calls returns the user texts Generate has been invoked with.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
