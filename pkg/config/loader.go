package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stateprep/pkg/state"
)

// Loader reads and validates preparation documents.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewLoader creates a loader with the built-in document schema.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
		logger:    logger.With().Str("component", "config").Logger(),
	}
}

// LoadDocument reads a document file with a default loader.
func LoadDocument(ctx context.Context, path string) (*state.Document, error) {
	return NewLoader(zerolog.Nop()).Load(ctx, path)
}

// Load reads a document file, picking the format from its extension.
func (l *Loader) Load(ctx context.Context, path string) (*state.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	doc, err := l.Parse(ctx, data, DetectFormat(path))
	if err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			for i := range verrs {
				verrs[i].File = path
			}
			return nil, verrs
		}
		return nil, fmt.Errorf("failed to load document %s: %w", path, err)
	}

	l.logger.Debug().
		Str("path", path).
		Int("components", len(doc.Components)).
		Int("steps", doc.StepCount()).
		Msg("Document loaded")

	return doc, nil
}

// Parse decodes and validates a document.
func (l *Loader) Parse(ctx context.Context, data []byte, format Format) (*state.Document, error) {
	tree, err := decodeTree(data, format)
	if err != nil {
		return nil, err
	}
	if err := l.schemas.ValidateAgainstSchema(ctx, SchemaDocument, tree); err != nil {
		return nil, err
	}

	var components []state.Component
	switch format {
	case FormatJSON:
		components, err = jsonComponents(data)
	default:
		components, err = yamlComponents(data)
	}
	if err != nil {
		return nil, err
	}

	doc := &state.Document{Components: components}
	if err := l.validator.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return doc, nil
}

// decodeTree decodes a document into plain maps and lists for schema validation.
func decodeTree(data []byte, format Format) (any, error) {
	var tree any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&tree); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	}
	if tree == nil {
		return nil, ValidationErrors{{Message: "document is empty"}}
	}
	return normalize(tree), nil
}

// jsonComponents streams the component object so its key order survives.
func jsonComponents(data []byte) ([]state.Component, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(top["component"]))
	dec.UseNumber()

	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("component must be an object")
	}

	var components []state.Component
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read component id: %w", err)
		}
		id, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("component id must be a string, got %v", tok)
		}

		var rc rawComponent
		if err := dec.Decode(&rc); err != nil {
			return nil, fmt.Errorf("component %s: %w", id, err)
		}
		components = append(components, state.Component{ID: id, Steps: toSteps(rc.State)})
	}

	return components, nil
}

// yamlComponents walks the node tree so mapping order survives.
func yamlComponents(data []byte) ([]state.Component, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("document must be a mapping")
	}

	var compNode *yaml.Node
	top := root.Content[0]
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value == "component" {
			compNode = resolveAlias(top.Content[i+1])
		}
	}
	if compNode == nil || compNode.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("component must be a mapping")
	}

	components := make([]state.Component, 0, len(compNode.Content)/2)
	for i := 0; i+1 < len(compNode.Content); i += 2 {
		id := compNode.Content[i].Value

		var rc rawComponent
		if err := compNode.Content[i+1].Decode(&rc); err != nil {
			return nil, fmt.Errorf("component %s: %w", id, err)
		}
		components = append(components, state.Component{ID: id, Steps: toSteps(rc.State)})
	}

	return components, nil
}

// toSteps converts decoded steps without rejecting any of them. Shape
// problems surface when the step is compiled: a step without a stateid or
// with a parameter that is not a mapping is malformed, a missing or
// non-string module is unknown.
func toSteps(raw []any) []state.Step {
	steps := make([]state.Step, 0, len(raw))
	for _, item := range raw {
		steps = append(steps, toStep(normalize(item)))
	}
	return steps
}

func toStep(v any) state.Step {
	var step state.Step

	fields, ok := v.(map[string]any)
	if !ok {
		return step
	}

	switch id := fields["stateid"].(type) {
	case string:
		step.StateID = state.StepID(id)
	case int64:
		step.StateID = state.StepID(strconv.FormatInt(id, 10))
	case float64:
		step.StateID = state.StepID(strconv.FormatFloat(id, 'f', -1, 64))
	}

	step.Module, _ = fields["module"].(string)

	if params, ok := fields["parameter"].(map[string]any); ok {
		step.Parameters = params
	}

	return step
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// normalize converts decoded numbers to int64 or float64 and YAML maps with
// non-string keys to map[string]any, in place where possible.
func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case int:
		return int64(val)
	case map[string]any:
		for k, item := range val {
			val[k] = normalize(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i := range val {
			val[i] = normalize(val[i])
		}
		return val
	default:
		return v
	}
}
