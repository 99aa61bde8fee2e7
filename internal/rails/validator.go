package rails

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fundverse/backend/internal/models"
)

// ErrInvalidParams is returned when submit parameters do not match the rail's schema.
var ErrInvalidParams = errors.New("invalid rail parameters")

//go:embed schemas/*.json
var schemaFS embed.FS

// ParamsValidator checks submit parameters against one JSON schema per rail.
type ParamsValidator struct {
	schemas map[models.Rail]*jsonschema.Schema
}

// NewParamsValidator compiles schemas/<rail>.json for every rail.
func NewParamsValidator() (*ParamsValidator, error) {
	v := &ParamsValidator{schemas: make(map[models.Rail]*jsonschema.Schema)}
	for _, rail := range models.Rails {
		name := "schemas/" + string(rail) + ".json"
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		id := "https://fundverse.dev/schemas/rails/" + string(rail) + ".json"
		s, err := jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", rail, err)
		}
		v.schemas[rail] = s
	}
	return v, nil
}

// Validate checks params for the given rail. Empty params are validated as {}.
func (v *ParamsValidator) Validate(rail models.Rail, params json.RawMessage) error {
	s, ok := v.schemas[rail]
	if !ok {
		return fmt.Errorf("%w: rail %q", ErrNoAdapter, rail)
	}
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := s.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", ErrInvalidParams, strings.TrimSpace(ve.Error()))
		}
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
