// Package flight is the test-facing entry point for recording and replaying
// cloud API conversations.
//
// A test asks the Harness for a session factory in one of two modes:
//
//	factory, err := h.RecordFlightData(t, "test_list_instances")  // live, wipes the cassette
//	factory, err := h.ReplayFlightData(t, "test_list_instances")  // offline, cassette must exist
//
// Both register exactly one cleanup on the Cleaner. That cleanup stops the
// pill and then resets the worker's conn cache slot, in that order, so the
// next test on the same worker starts with a clean session. The worker is
// the test case unless WithWorker or OnWorker names another one.
//
// Switching a test between record and replay is a one-word change; the
// code under test never knows which mode it is running in.
package flight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourceops/cloud-custodian/internal/cloud"
	"github.com/sourceops/cloud-custodian/internal/config"
	"github.com/sourceops/cloud-custodian/internal/conncache"
	"github.com/sourceops/cloud-custodian/internal/fixture"
	"github.com/sourceops/cloud-custodian/internal/pill"
	"github.com/sourceops/cloud-custodian/internal/session"
)

// ErrNoLiveTransport is returned by RecordFlightData when the harness has
// neither an endpoint nor a transport to record against.
var ErrNoLiveTransport = errors.New("flight: no live transport configured for recording")

// Ledger receives flight lifecycle events. *flightlog.Log satisfies it.
type Ledger interface {
	BeginFlight(ctx context.Context, testCase, mode string) (string, error)
	RecordCall(ctx context.Context, flightID string, e fixture.Entry) error
	EndFlight(ctx context.Context, flightID, status string) error
}

// Flight status values reported to the Ledger.
const (
	statusPassed = "passed"
	statusFailed = "failed"
)

// Harness builds record and replay sessions over one fixture root.
type Harness struct {
	store     *fixture.Store
	codec     fixture.Codec
	cache     *conncache.Cache
	cfg       config.Config
	logger    *slog.Logger
	transport func() session.Handler
	ledger    Ledger
	worker    string
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger passed to every pill. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCache shares an existing conn cache. Default: a private cache.
func WithCache(c *conncache.Cache) Option {
	return func(h *Harness) {
		if c != nil {
			h.cache = c
		}
	}
}

// WithCodec selects the cassette entry format. Default: fixture.JSON.
func WithCodec(c fixture.Codec) Option {
	return func(h *Harness) {
		if c != nil {
			h.codec = c
		}
	}
}

// WithConfig sets the region and profile given to sessions. Default: config.Empty().
func WithConfig(cfg config.Config) Option {
	return func(h *Harness) {
		h.cfg = cfg
	}
}

// WithTransport sets the live transport used while recording.
// newTransport is called once per RecordFlightData.
func WithTransport(newTransport func() session.Handler) Option {
	return func(h *Harness) {
		h.transport = newTransport
	}
}

// WithEndpoint records against a live JSON-over-HTTP endpoint.
func WithEndpoint(endpoint string) Option {
	return func(h *Harness) {
		h.transport = func() session.Handler {
			return cloud.NewTransport(endpoint, cloud.WithRegion(h.cfg.Region))
		}
	}
}

// WithWorker sets the conn cache slot reset after every flight of this
// harness. Default: the test-case name.
func WithWorker(key string) Option {
	return func(h *Harness) {
		h.worker = key
	}
}

// FlightOption configures a single record or replay flight.
type FlightOption func(*flightOptions)

type flightOptions struct {
	worker string
}

// OnWorker sets the conn cache slot reset when this flight's cleanup runs.
func OnWorker(key string) FlightOption {
	return func(o *flightOptions) {
		o.worker = key
	}
}

// WithFlightLog logs every flight and intercepted call to l.
func WithFlightLog(l Ledger) Option {
	return func(h *Harness) {
		h.ledger = l
	}
}

// New creates a harness whose cassettes live under root.
func New(root string, opts ...Option) *Harness {
	h := &Harness{
		codec:  fixture.JSON,
		cache:  conncache.New(),
		cfg:    config.Empty(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.store = fixture.NewStore(root, fixture.WithCodec(h.codec))
	return h
}

// Store returns the fixture store.
func (h *Harness) Store() *fixture.Store { return h.store }

// Cache returns the conn cache whose slots are reset on cleanup.
func (h *Harness) Cache() *conncache.Cache { return h.cache }

// Slot returns the conn cache slot for a worker key. Code under test
// memoizes its session here; the slot is cleared when the cleanup of a
// flight bound to that worker runs.
func (h *Harness) Slot(worker string) *conncache.Slot { return h.cache.Slot(worker) }

// RecordFlightData wipes the cassette for testCase and returns a factory for
// a session whose every call goes live and is written to the cassette.
// Recording always logs intercepted calls at info level.
func (h *Harness) RecordFlightData(c Cleaner, testCase string, opts ...FlightOption) (session.Factory, error) {
	if h.transport == nil {
		return nil, ErrNoLiveTransport
	}
	return h.start(c, testCase, pill.ModeRecord, h.transport(), opts)
}

// ReplayFlightData returns a factory for a session served entirely from the
// cassette for testCase. The session has no live transport: a call that
// escapes the pill fails instead of reaching the network.
//
// Fails with INVALID_FIXTURE_DIRECTORY if the cassette does not exist.
func (h *Harness) ReplayFlightData(c Cleaner, testCase string, opts ...FlightOption) (session.Factory, error) {
	return h.start(c, testCase, pill.ModeReplay, session.Inert(), opts)
}

func (h *Harness) start(c Cleaner, testCase string, mode pill.Mode, transport session.Handler, fopts []FlightOption) (session.Factory, error) {
	fo := flightOptions{worker: h.worker}
	for _, opt := range fopts {
		opt(&fo)
	}
	if fo.worker == "" {
		fo.worker = testCase
	}

	sess := session.New(transport,
		session.WithRegion(h.cfg.Region),
		session.WithProfile(h.cfg.Profile),
	)

	var flightID string
	opts := []pill.Option{
		pill.WithLogger(h.logger),
		pill.WithDebug(mode == pill.ModeRecord),
	}
	if h.ledger != nil {
		opts = append(opts, pill.WithObserver(func(_ pill.Mode, e fixture.Entry) {
			if flightID == "" {
				return
			}
			if err := h.ledger.RecordCall(context.Background(), flightID, e); err != nil {
				h.logger.Warn("flight log write failed", "test_case", testCase, "index", e.Index, "error", err)
			}
		}))
	}

	p, err := pill.Attach(sess, h.store, testCase, mode, opts...)
	if err != nil {
		return nil, err
	}

	if h.ledger != nil {
		id, err := h.ledger.BeginFlight(context.Background(), testCase, string(mode))
		if err != nil {
			p.Stop()
			return nil, fmt.Errorf("begin flight %q: %w", testCase, err)
		}
		flightID = id
	}

	switch mode {
	case pill.ModeRecord:
		err = p.Record()
	default:
		err = p.Playback()
	}
	if err != nil {
		p.Stop()
		return nil, err
	}

	c.Cleanup(func() {
		p.Stop()
		h.cache.Reset(fo.worker)
		h.endFlight(c, testCase, flightID)
	})

	h.logger.Debug("flight started",
		"test_case", testCase,
		"mode", string(mode),
		"worker", fo.worker,
		"dir", p.Cassette().Dir(),
	)
	return func(...string) *session.Session { return sess }, nil
}

func (h *Harness) endFlight(c Cleaner, testCase, flightID string) {
	if h.ledger == nil || flightID == "" {
		return
	}
	status := statusPassed
	if f, ok := c.(interface{ Failed() bool }); ok && f.Failed() {
		status = statusFailed
	}
	if err := h.ledger.EndFlight(context.Background(), flightID, status); err != nil {
		h.logger.Warn("flight log close failed", "test_case", testCase, "error", err)
	}
}

// TB is the subset of testing.TB used by MustRecord and MustReplay.
type TB interface {
	Cleaner
	Helper()
	Fatalf(format string, args ...any)
}

// MustRecord is RecordFlightData that fails the test on error.
func MustRecord(t TB, h *Harness, testCase string, opts ...FlightOption) session.Factory {
	t.Helper()
	f, err := h.RecordFlightData(t, testCase, opts...)
	if err != nil {
		t.Fatalf("record flight data %q: %v", testCase, err)
	}
	return f
}

// MustReplay is ReplayFlightData that fails the test on error.
func MustReplay(t TB, h *Harness, testCase string, opts ...FlightOption) session.Factory {
	t.Helper()
	f, err := h.ReplayFlightData(t, testCase, opts...)
	if err != nil {
		t.Fatalf("replay flight data %q: %v", testCase, err)
	}
	return f
}
