// Package execution runs a minimal resource policy against a cloud session.
//
// It plays the part of the code under test in flight recordings: it knows
// nothing about record or replay, obtains its session from a factory, and
// memoizes that session in a conn cache slot the way long-lived policy code
// does.
package execution

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sourceops/cloud-custodian/internal/config"
	"github.com/sourceops/cloud-custodian/internal/conncache"
	"github.com/sourceops/cloud-custodian/internal/session"
)

// Policy selects resources and optionally acts on them.
type Policy struct {
	Name     string   `yaml:"name"`
	Resource string   `yaml:"resource"`
	Filters  []Filter `yaml:"filters"`
	Actions  []string `yaml:"actions"`
}

// Filter matches one instance attribute. Key is "State.Name",
// "InstanceType" or "tag:<name>".
type Filter struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// LoadPolicy parses a single policy document.
func LoadPolicy(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.normalize(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicyFile reads and parses a policy file.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return LoadPolicy(data)
}

// PolicySet is a file of several policies under a top-level "policies" key.
type PolicySet struct {
	Policies []Policy `yaml:"policies"`
}

// Names returns the policy names in file order.
func (s PolicySet) Names() []string {
	names := make([]string, len(s.Policies))
	for i, p := range s.Policies {
		names[i] = p.Name
	}
	return names
}

// LoadPolicySet parses a policy set document. Policy names must be unique.
func LoadPolicySet(data []byte) (PolicySet, error) {
	var s PolicySet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return PolicySet{}, fmt.Errorf("failed to parse policy set: %w", err)
	}
	if len(s.Policies) == 0 {
		return PolicySet{}, fmt.Errorf("policy set has no policies")
	}

	seen := make(map[string]bool, len(s.Policies))
	for i := range s.Policies {
		p := &s.Policies[i]
		if err := p.normalize(); err != nil {
			return PolicySet{}, fmt.Errorf("policies[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return PolicySet{}, fmt.Errorf("duplicate policy name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return s, nil
}

// LoadPolicySetFile reads and parses a policy set file.
func LoadPolicySetFile(path string) (PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicySet{}, fmt.Errorf("failed to read policy set file: %w", err)
	}
	return LoadPolicySet(data)
}

func (p *Policy) normalize() error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.Resource == "" {
		p.Resource = "ec2"
	}
	if p.Resource != "ec2" {
		return fmt.Errorf("policy %s: unsupported resource %q", p.Name, p.Resource)
	}
	for _, a := range p.Actions {
		if a != "stop" {
			return fmt.Errorf("policy %s: unsupported action %q", p.Name, a)
		}
	}
	return nil
}

// Context carries the session factory, policy and configuration for one run.
type Context struct {
	factory session.Factory
	slot    *conncache.Slot
	policy  Policy
	cfg     config.Config
	logger  *slog.Logger
}

// Option configures a Context.
type Option func(*Context)

// WithSlot memoizes the session in slot instead of calling the factory on
// every Session call.
func WithSlot(slot *conncache.Slot) Option {
	return func(c *Context) {
		c.slot = slot
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an execution context.
func New(factory session.Factory, policy Policy, cfg config.Config, opts ...Option) *Context {
	c := &Context{
		factory: factory,
		policy:  policy,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the policy.
func (c *Context) Policy() Policy { return c.policy }

// Config returns the configuration.
func (c *Context) Config() config.Config { return c.cfg }

// Session returns the session for this run, memoized in the slot if one is set.
func (c *Context) Session() *session.Session {
	if c.slot == nil {
		return c.factory(c.cfg.Profile)
	}
	return c.slot.Session(func(...string) *session.Session {
		return c.factory(c.cfg.Profile)
	})
}

// Result is the outcome of Run.
type Result struct {
	Matched []Instance
	Stopped []string
}

// Run describes instances, filters them, and applies the policy's actions.
// Actions are skipped in dry-run mode.
func (c *Context) Run(ctx context.Context) (Result, error) {
	instances, err := DescribeInstances(ctx, c.Session())
	if err != nil {
		return Result{}, fmt.Errorf("policy %s: %w", c.policy.Name, err)
	}

	var res Result
	for _, inst := range instances {
		if c.matches(inst) {
			res.Matched = append(res.Matched, inst)
		}
	}
	c.logger.InfoContext(ctx, "policy resources",
		"policy", c.policy.Name,
		"region", c.cfg.Region,
		"count", len(res.Matched),
	)

	if len(res.Matched) == 0 || len(c.policy.Actions) == 0 {
		return res, nil
	}
	if c.cfg.DryRun {
		c.logger.InfoContext(ctx, "dryrun: skipping actions", "policy", c.policy.Name)
		return res, nil
	}

	ids := make([]string, len(res.Matched))
	for i, inst := range res.Matched {
		ids[i] = inst.InstanceID
	}
	if err := StopInstances(ctx, c.Session(), ids); err != nil {
		return res, fmt.Errorf("policy %s: %w", c.policy.Name, err)
	}
	res.Stopped = ids
	return res, nil
}

func (c *Context) matches(inst Instance) bool {
	for _, f := range c.policy.Filters {
		var got string
		switch {
		case f.Key == "State.Name":
			got = inst.State.Name
		case f.Key == "InstanceType":
			got = inst.InstanceType
		case strings.HasPrefix(f.Key, "tag:"):
			got = inst.Tag(strings.TrimPrefix(f.Key, "tag:"))
		default:
			return false
		}
		if got != f.Value {
			return false
		}
	}
	return true
}
