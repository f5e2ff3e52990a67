// Package testutil provides helpers shared by tests that exercise recorded
// cloud conversations.
package testutil

import (
	"bytes"
	"embed"
	"encoding/json"
	"log/slog"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourceops/cloud-custodian/internal/config"
	"github.com/sourceops/cloud-custodian/internal/execution"
	"github.com/sourceops/cloud-custodian/internal/session"
)

//go:embed data
var dataFS embed.FS

// Cleaner registers teardown work. Satisfied by testing.TB and flight.Scope.
type Cleaner interface {
	Cleanup(fn func())
}

// Patch sets *target to value and restores the old value on cleanup.
func Patch[T any](c Cleaner, target *T, value T) {
	old := *target
	*target = value
	c.Cleanup(func() { *target = old })
}

// CaptureLogging routes the default slog logger to a buffer at level and
// restores the previous default on cleanup.
func CaptureLogging(c Cleaner, level slog.Level) *bytes.Buffer {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	c.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

// LoadData reads a JSON object from the shared data directory and applies
// overrides on top of its top-level keys, later overrides winning.
func LoadData(t testing.TB, name string, overrides ...map[string]any) map[string]any {
	t.Helper()
	raw, err := dataFS.ReadFile(path.Join("data", name))
	require.NoError(t, err, "load data %s", name)

	var data map[string]any
	require.NoError(t, json.Unmarshal(raw, &data), "decode data %s", name)
	for _, o := range overrides {
		for k, v := range o {
			data[k] = v
		}
	}
	return data
}

// EventData reads a cloud event document from data/cwe.
func EventData(t testing.TB, name string) map[string]any {
	t.Helper()
	return LoadData(t, path.Join("cwe", name))
}

// Instance returns the sample instance description with overrides applied.
func Instance(t testing.TB, overrides ...map[string]any) map[string]any {
	t.Helper()
	return LoadData(t, "instance.json", overrides...)
}

// GetContext builds an execution context for a test policy. The config
// writes its output under a per-test temp directory unless cfg is given.
func GetContext(t testing.TB, factory session.Factory, policy *execution.Policy, cfg *config.Config) *execution.Context {
	t.Helper()
	c := config.Empty(config.WithOutputDir(t.TempDir()))
	if cfg != nil {
		c = *cfg
	}
	p := execution.Policy{Name: "test-policy", Resource: "ec2"}
	if policy != nil {
		p = *policy
	}
	return execution.New(factory, p, c)
}
