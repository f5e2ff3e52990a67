package flight

import "sync"

// Cleaner registers teardown work. *testing.T, *testing.B and *Scope all
// satisfy it.
type Cleaner interface {
	Cleanup(fn func())
}

// Scope is a Cleaner for code that does not run under the testing package,
// such as the CLI or a long-lived recording script.
//
// Cleanups run in reverse registration order when Close is called. A cleanup
// registered after Close runs immediately.
type Scope struct {
	mu     sync.Mutex
	fns    []func()
	closed bool
}

// Cleanup registers fn to run at Close.
func (s *Scope) Cleanup(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

// Close runs all registered cleanups, last registered first.
// Calling Close more than once is a no-op.
func (s *Scope) Close() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.closed = true
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
