package chain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ryehost/rye/internal/hosterr"
)

// checkAdjacentCompatibility validates that the newest link's input_schema
// (if declared) is structurally satisfiable by the previous link's
// output_schema (spec SPEC_FULL.md [CHAIN]: "adjacent elements must agree
// on shape"). Either schema may be absent, in which case the pair is
// trivially compatible — elements are not required to declare schemas.
func checkAdjacentCompatibility(links []Link) error {
	if len(links) < 2 {
		return nil
	}
	prev := links[len(links)-2].Artifact
	cur := links[len(links)-1].Artifact

	outSchema, ok := prev.Metadata["output_schema"]
	if !ok {
		return nil
	}
	inSchema, ok := cur.Metadata["input_schema"]
	if !ok {
		return nil
	}

	sample, err := sampleFromSchema(outSchema)
	if err != nil {
		return hosterr.Wrap(hosterr.ChainError, err, "building sample output for %q", prev.ID)
	}

	compiled, err := compileSchema(cur.ID, inSchema)
	if err != nil {
		return hosterr.Wrap(hosterr.ChainError, err, "compiling input_schema for %q", cur.ID)
	}

	if err := compiled.Validate(sample); err != nil {
		return hosterr.Wrap(hosterr.ChainError, err,
			"chain element %q output is not compatible with %q input_schema", prev.ID, cur.ID)
	}
	return nil
}

func compileSchema(name string, schema any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "mem://" + name
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// sampleFromSchema builds a minimal representative value for schema so it
// can be validated against an adjacent input_schema. Object schemas yield a
// map populated with zero-ish values for each declared property; anything
// else is passed through as-is (best-effort structural check, not full
// value-level verification — the chain engine cannot know real runtime
// output ahead of execution).
func sampleFromSchema(schema any) (any, error) {
	m, ok := schema.(map[string]any)
	if !ok {
		return schema, nil
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		return m, nil
	}
	sample := make(map[string]any, len(props))
	for key, propSchema := range props {
		sample[key] = zeroFor(propSchema)
	}
	return sample, nil
}

func zeroFor(propSchema any) any {
	m, ok := propSchema.(map[string]any)
	if !ok {
		return nil
	}
	switch fmt.Sprint(m["type"]) {
	case "string":
		return ""
	case "number", "integer":
		return 0
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return nil
	}
}

