// Package schema validates cassette entry files against a CUE schema.
//
// The schema is closed: unknown keys, negative indexes, malformed operation
// names and out-of-range status codes are all rejected. Validation is used
// by the CLI verify command; playback itself never validates.
package schema

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/sourceops/cloud-custodian/internal/fixture"
)

//go:embed entry.cue
var entrySchema string

// Validator checks entry documents against #Entry.
// A Validator is not safe for concurrent use.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded entry schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(entrySchema, cue.Filename("entry.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile entry schema: %s", formatCUEError(err))
	}
	def := v.LookupPath(cue.ParsePath("#Entry"))
	if !def.Exists() {
		return nil, fmt.Errorf("entry schema has no #Entry definition")
	}
	return &Validator{ctx: ctx, schema: def}, nil
}

// Validate checks one entry file's raw bytes, written with codec.
func (v *Validator) Validate(data []byte, codec fixture.Codec) error {
	doc := data
	if codec.Ext() != fixture.JSON.Ext() {
		// YAML entries carry payloads as strings; check them in their JSON form.
		e, err := codec.Decode(data)
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if doc, err = fixture.JSON.Encode(e); err != nil {
			return fmt.Errorf("re-encode: %w", err)
		}
	}

	val := v.ctx.CompileBytes(doc, cue.Filename("entry.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("parse: %s", formatCUEError(err))
	}
	if err := v.schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %s", formatCUEError(err))
	}

	e, err := codec.Decode(data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if want := e.Service + "." + e.Method; e.Operation != want {
		return fmt.Errorf("operation %q does not match service and method %q", e.Operation, want)
	}
	if e.Error != nil && len(e.Response) > 0 {
		return fmt.Errorf("entry has both a response and an error")
	}
	return nil
}

// ValidateIndex checks that a cassette's indexes are contiguous from 0.
// Gaps mean playback would fail with FIXTURE_NOT_FOUND partway through.
func ValidateIndex(indexes []int) error {
	for want, got := range indexes {
		if got != want {
			return fmt.Errorf("index gap: expected %d, found %d", want, got)
		}
	}
	return nil
}

func formatCUEError(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}
