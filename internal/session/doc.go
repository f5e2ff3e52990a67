// Package session provides the API client handle that code under test talks to.
//
// A Session dispatches every call through an ordered chain of named
// middleware before it reaches the transport. Middleware is how the flight
// harness attaches record and replay behavior to a session without the code
// under test noticing:
//
//	[Call] → [middleware "pill"] → ... → [Transport]
//
// The Session does not own the lifecycle of anything attached to it. Attach
// with Use, detach with Remove.
//
// # Session factories
//
// Code under test never constructs sessions. It receives a Factory and calls
// it whenever it needs a session, exactly as it would a real provider:
//
//	factory := func(...string) *session.Session { return sess }
//	resp := ctx.Session().Call(...)
package session
