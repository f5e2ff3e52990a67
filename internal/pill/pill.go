// Package pill attaches record and replay behavior to a session.
//
// A Pill binds one session to one cassette and one mode. It sits in the
// session's dispatch chain as the "pill" middleware and moves through a
// small state machine:
//
//	Idle ──Record()───▶ Recording ──Stop()──▶ detached
//	Idle ──Playback()─▶ Replaying ──Stop()──▶ detached
//
// While Idle the pill passes calls straight through. While Recording every
// call goes to the live transport and its outcome is written as the next
// cassette entry. While Replaying no call reaches the transport; entries are
// served strictly in index order.
//
// Matching is by position only. If the code under test changes its call
// order between record and replay it receives the wrong fixture; if it makes
// more calls than were recorded it fails with FIXTURE_NOT_FOUND. Both are
// test-authoring errors and are never tolerated silently.
package pill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourceops/cloud-custodian/internal/fixture"
	"github.com/sourceops/cloud-custodian/internal/session"
)

// MiddlewareName is the name the pill registers on the session.
const MiddlewareName = "pill"

// Mode selects record or replay behavior.
type Mode string

const (
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
)

// State is the pill's position in its state machine.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateReplaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateReplaying:
		return "replaying"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrAlreadyAttached is returned when the session already carries a pill.
	ErrAlreadyAttached = errors.New("pill: session already has a pill attached")

	// ErrDetached is returned when Record or Playback is called after Stop.
	ErrDetached = errors.New("pill: detached")

	// ErrModeMismatch is returned when Record is called on a replay pill or vice versa.
	ErrModeMismatch = errors.New("pill: mode mismatch")

	// ErrNotIdle is returned when Record or Playback is called twice.
	ErrNotIdle = errors.New("pill: not idle")
)

// Observer is notified of every entry written or served.
type Observer func(mode Mode, e fixture.Entry)

// Pill intercepts calls on one session.
//
// A Pill is owned by a single test and is not safe for concurrent use.
type Pill struct {
	session  *session.Session
	cassette *fixture.Cassette
	mode     Mode
	state    State
	attached bool
	cursor   Cursor

	debug    bool
	logger   *slog.Logger
	observer Observer
}

// Option configures a Pill.
type Option func(*Pill)

// WithDebug logs every intercepted call at info level instead of debug.
func WithDebug(debug bool) Option {
	return func(p *Pill) {
		p.debug = debug
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pill) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers a callback for every recorded or replayed entry.
func WithObserver(o Observer) Option {
	return func(p *Pill) {
		p.observer = o
	}
}

// Attach binds a new pill to sess for testCase in store.
//
// In record mode the cassette is wiped and recreated. In replay mode it must
// already exist; otherwise Attach fails with INVALID_FIXTURE_DIRECTORY before
// anything is attached to the session.
func Attach(sess *session.Session, store *fixture.Store, testCase string, mode Mode, opts ...Option) (*Pill, error) {
	if sess.Has(MiddlewareName) {
		return nil, ErrAlreadyAttached
	}

	var (
		cassette *fixture.Cassette
		err      error
	)
	switch mode {
	case ModeRecord:
		cassette, err = store.Create(testCase)
	case ModeReplay:
		cassette, err = store.Open(testCase)
	default:
		return nil, fmt.Errorf("pill: unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	p := &Pill{
		session:  sess,
		cassette: cassette,
		mode:     mode,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := sess.Use(MiddlewareName, p.middleware); err != nil {
		if errors.Is(err, session.ErrDuplicateMiddleware) {
			return nil, ErrAlreadyAttached
		}
		return nil, err
	}
	p.attached = true
	return p, nil
}

// Mode returns the mode the pill was attached with.
func (p *Pill) Mode() Mode { return p.mode }

// State returns the current state.
func (p *Pill) State() State { return p.state }

// Cassette returns the bound cassette.
func (p *Pill) Cassette() *fixture.Cassette { return p.cassette }

// Calls returns the number of calls intercepted since Record or Playback.
func (p *Pill) Calls() int { return p.cursor.Position() }

// Record switches the pill into capture behavior.
func (p *Pill) Record() error {
	return p.start(ModeRecord, StateRecording)
}

// Playback switches the pill into substitution behavior.
func (p *Pill) Playback() error {
	return p.start(ModeReplay, StateReplaying)
}

func (p *Pill) start(mode Mode, to State) error {
	if !p.attached {
		return ErrDetached
	}
	if p.mode != mode {
		return fmt.Errorf("%w: attached for %s", ErrModeMismatch, p.mode)
	}
	if p.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrNotIdle, p.state)
	}
	p.cursor.Reset()
	p.state = to
	p.logger.Debug("pill started",
		"test_case", p.cassette.Name(),
		"mode", string(p.mode),
		"dir", p.cassette.Dir(),
	)
	return nil
}

// Stop detaches the pill, restoring the session to its unmodified state.
// Calling Stop more than once is a no-op.
func (p *Pill) Stop() {
	if !p.attached {
		return
	}
	p.session.Remove(MiddlewareName)
	p.attached = false
	p.state = StateIdle
	p.logger.Debug("pill stopped",
		"test_case", p.cassette.Name(),
		"mode", string(p.mode),
		"calls", p.cursor.Position(),
	)
}

func (p *Pill) middleware(next session.Handler) session.Handler {
	return session.HandlerFunc(func(ctx context.Context, req *session.Request) (*session.Response, error) {
		switch p.state {
		case StateRecording:
			return p.record(ctx, req, next)
		case StateReplaying:
			return p.replay(ctx, req)
		default:
			return next.Handle(ctx, req)
		}
	})
}

// record executes the call live and persists its outcome before returning it.
// Transport failures (no API response at all) are returned without being recorded.
func (p *Pill) record(ctx context.Context, req *session.Request, next session.Handler) (*session.Response, error) {
	resp, err := next.Handle(ctx, req)

	var apiErr *session.APIError
	if err != nil && !errors.As(err, &apiErr) {
		return nil, err
	}

	entry := fixture.NewEntry(p.cursor.Next(), req, resp, apiErr)
	if werr := p.cassette.WriteEntry(entry); werr != nil {
		return nil, werr
	}
	p.trace(ctx, "recorded call", entry)

	if apiErr != nil {
		return nil, err
	}
	return resp, nil
}
