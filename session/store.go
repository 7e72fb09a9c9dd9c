package session

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/proofy/proofy-go/model"
)

// Store holds the current test and current session, scoped per goroutine
// so tests running on parallel goroutines never observe each other's
// pointers. A Store is injected into the Service rather than living in
// package globals.
type Store struct {
	mu       sync.Mutex
	tests    map[uint64]*model.TestResult
	sessions map[uint64]*Context
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tests:    map[uint64]*model.TestResult{},
		sessions: map[uint64]*Context{},
	}
}

// Test returns the calling goroutine's current test, or nil.
func (s *Store) Test() *model.TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tests[gid()]
}

// SetTest sets or clears (nil) the calling goroutine's current test.
func (s *Store) SetTest(result *model.TestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result == nil {
		delete(s.tests, gid())
		return
	}
	s.tests[gid()] = result
}

// Session returns the calling goroutine's current session, or nil.
func (s *Store) Session() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[gid()]
}

// SetSession sets or clears (nil) the calling goroutine's current session.
func (s *Store) SetSession(ctx *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx == nil {
		delete(s.sessions, gid())
		return
	}
	s.sessions[gid()] = ctx
}

// gid extracts the current goroutine id from the stack header
// ("goroutine N [running]: ...").
func gid() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
