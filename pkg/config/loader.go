package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/go-playground/validator/v10"
)

// Loader parses and validates install manifests. Manifests are YAML, unified
// against the builtin CUE schema for structural validation and defaulting,
// then decoded and checked with the struct validator.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader creates a manifest loader with the builtin schema compiled.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(builtinManifestSchema)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	schema := val.LookupPath(cue.ParsePath("#Manifest"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("manifest schema missing #Manifest: %w", err)
	}

	return &Loader{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// Load reads, validates, and decodes the manifest at path.
func (l *Loader) Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return l.Parse(path, data)
}

// Parse validates and decodes manifest bytes. The filename is used only for
// error positions.
func (l *Loader) Parse(filename string, data []byte) (*Manifest, error) {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	val := l.ctx.BuildFile(file)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to build manifest: %w", err)
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %s", cueerrors.Details(err, nil))
	}

	var m Manifest
	if err := unified.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	m.applyDefaults()

	if err := l.validator.Struct(&m); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	return &m, nil
}
