// Package compiler validates definition trees at the deploy boundary.
//
// Validation runs in two layers: the embedded CUE schema checks the wire
// shape (tagged types, children arity), then the Go validator checks the
// invariants CUE cannot express cheaply (id uniqueness across the tree,
// per-type prop requirements). The worker trusts deployed definitions;
// everything that enters the store passes through here.
package compiler

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/strand/internal/def"
)

//go:embed schema.cue
var schemaCUE string

var (
	schemaOnce sync.Once
	schemaVal  cue.Value
	schemaErr  error
)

// loadSchema compiles the embedded schema once per process.
func loadSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile definition schema: %w", err)
			return
		}
		schemaVal = v
	})
	return schemaVal, schemaErr
}

// ValidateDefinition checks a definition JSON document against the wire
// schema and the structural invariants, returning the parsed tree on
// success.
func ValidateDefinition(data []byte) (*def.Node, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, err
	}

	expr, err := cuejson.Extract("definition.json", data)
	if err != nil {
		return nil, fmt.Errorf("definition is not valid JSON: %w", err)
	}

	unified := schema.FillPath(cue.ParsePath("definition"), schema.Context().BuildExpr(expr))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("definition shape invalid: %s", cueerrors.Details(err, nil))
	}

	root, err := def.ParseTree(data)
	if err != nil {
		return nil, err
	}
	if errs := def.ValidateTree(root); len(errs) > 0 {
		return nil, fmt.Errorf("definition invalid: %w", errors.Join(errs...))
	}
	return root, nil
}
