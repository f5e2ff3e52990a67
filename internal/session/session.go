package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// DefaultRegion is used when no region option is given.
const DefaultRegion = "us-east-1"

// ErrNoTransport is returned when a call reaches an inert transport.
// Replay sessions are built on an inert transport so any call that escapes
// the interceptor fails loudly instead of touching the network.
var ErrNoTransport = errors.New("session: live dispatch on inert transport")

// ErrDuplicateMiddleware is returned by Use when the name is already taken.
var ErrDuplicateMiddleware = errors.New("session: middleware already registered")

// Request is a single API call on its way to the transport.
type Request struct {
	Service string
	Method  string

	// Params is the JSON-encoded call input. Nil when the call has no input.
	Params json.RawMessage
}

// Operation returns the call identity in "service.Method" form.
func (r *Request) Operation() string {
	return r.Service + "." + r.Method
}

// Response is a successful API response.
type Response struct {
	StatusCode int

	// Body is a JSON document. It is recorded and replayed byte for byte.
	Body json.RawMessage
}

// APIError is an error response returned by the remote service.
// It is part of the recorded conversation and is replayed verbatim.
type APIError struct {
	Code       string `json:"code" yaml:"code"`
	Message    string `json:"message" yaml:"message"`
	StatusCode int    `json:"status_code" yaml:"status_code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// Handler dispatches a request.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps the next handler in the chain.
type Middleware func(next Handler) Handler

// Inert returns a transport that refuses every call with ErrNoTransport.
func Inert() Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, fmt.Errorf("%s: %w", req.Operation(), ErrNoTransport)
	})
}

// Factory produces the session handed to code under test.
// The optional argument mirrors provider signatures that accept a profile
// name; factories built by the harness ignore it.
type Factory func(profile ...string) *Session

type namedMiddleware struct {
	name string
	mw   Middleware
}

// Session is an API client handle.
//
// Thread-safety: the middleware chain is guarded by a mutex, but a session
// is normally owned by a single test.
type Session struct {
	region    string
	profile   string
	transport Handler

	mu    sync.Mutex
	stack []namedMiddleware
}

// Option configures a Session.
type Option func(*Session)

// WithRegion sets the session region.
func WithRegion(region string) Option {
	return func(s *Session) {
		if region != "" {
			s.region = region
		}
	}
}

// WithProfile sets the credential profile name.
func WithProfile(profile string) Option {
	return func(s *Session) {
		s.profile = profile
	}
}

// New creates a session that dispatches to transport.
// A nil transport is treated as Inert().
func New(transport Handler, opts ...Option) *Session {
	if transport == nil {
		transport = Inert()
	}
	s := &Session{
		region:    DefaultRegion,
		transport: transport,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Region returns the session region.
func (s *Session) Region() string { return s.region }

// Profile returns the credential profile name, possibly empty.
func (s *Session) Profile() string { return s.profile }

// Use appends a named middleware to the dispatch chain.
// Middleware registered first runs outermost.
func (s *Session) Use(name string, mw Middleware) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.stack {
		if m.name == name {
			return fmt.Errorf("%w: %q", ErrDuplicateMiddleware, name)
		}
	}
	s.stack = append(s.stack, namedMiddleware{name: name, mw: mw})
	return nil
}

// Remove detaches the named middleware. Returns false if it was not present.
func (s *Session) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.stack {
		if m.name == name {
			s.stack = append(s.stack[:i:i], s.stack[i+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether the named middleware is attached.
func (s *Session) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.stack {
		if m.name == name {
			return true
		}
	}
	return false
}

// Invoke sends req through the middleware chain and the transport.
func (s *Session) Invoke(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	h := s.transport
	for i := len(s.stack) - 1; i >= 0; i-- {
		h = s.stack[i].mw(h)
	}
	s.mu.Unlock()
	return h.Handle(ctx, req)
}

// Call invokes service.method with params and decodes the response body into out.
// params may be nil; out may be nil when the caller ignores the response.
func (s *Session) Call(ctx context.Context, service, method string, params, out any) error {
	req := &Request{Service: service, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s.%s params: %w", service, method, err)
		}
		req.Params = raw
	}

	resp, err := s.Invoke(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || resp == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Operation(), err)
	}
	return nil
}
