package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	compiler "github.com/santhosh-tekuri/jsonschema/v5"
)

// ParametersFor reflects an argument struct into the JSON schema object
// sent to the model as a tool's parameters. Fields tagged omitempty are
// optional, and keys the struct does not declare are not allowed.
func ParametersFor(args any) (map[string]any, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	raw, err := json.Marshal(r.Reflect(args))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	// Provider APIs reject the meta keys.
	delete(params, "$schema")
	delete(params, "$id")
	params["additionalProperties"] = false
	return params, nil
}

// compileArguments checks that params is a well-formed JSON schema and
// compiles the schema that model arguments are validated against.
func compileArguments(name string, params map[string]any) (*compiler.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters for %s: %w", name, err)
	}
	if _, err := compiler.CompileString(name+".schema.json", string(raw)); err != nil {
		return nil, fmt.Errorf("compile parameters for %s: %w", name, err)
	}

	raw, err = json.Marshal(argumentSchema(params))
	if err != nil {
		return nil, fmt.Errorf("encode argument schema for %s: %w", name, err)
	}
	schema, err := compiler.CompileString(name+".args.schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile argument schema for %s: %w", name, err)
	}
	return schema, nil
}

// argumentSchema widens params to what the argument helpers accept.
// Key names are kept as declared. A scalar property also takes the
// scalar types the helpers coerce from, null, and a one-element array
// of those. Objects never pass for a scalar. Required keys are left to
// the handlers, which report them with domain messages.
func argumentSchema(params map[string]any) map[string]any {
	out := map[string]any{"type": "object"}
	if extra, ok := params["additionalProperties"]; ok {
		out["additionalProperties"] = extra
	}
	props, _ := params["properties"].(map[string]any)
	loose := make(map[string]any, len(props))
	for key, p := range props {
		prop, _ := p.(map[string]any)
		scalars := coercibleFrom(prop["type"])
		if scalars == nil {
			loose[key] = p
			continue
		}
		loose[key] = map[string]any{
			"type":     append([]any{"null", "array"}, scalars...),
			"maxItems": 1,
			"items":    map[string]any{"type": scalars},
		}
	}
	out["properties"] = loose
	return out
}

// coercibleFrom lists the JSON types argString and argInt turn into a
// value of the declared type, or nil for non-scalar types.
func coercibleFrom(declared any) []any {
	switch declared {
	case "string":
		return []any{"string", "number", "boolean"}
	case "integer", "number":
		return []any{"number", "string"}
	case "boolean":
		return []any{"boolean", "string"}
	}
	return nil
}

// argumentError flattens a schema validation failure into one
// InvalidArgumentError naming each offending key.
func argumentError(err error) error {
	var ve *compiler.ValidationError
	if !errors.As(err, &ve) {
		return invalidArgument("invalid arguments: %v", err)
	}
	var msgs []string
	var walk func(e *compiler.ValidationError)
	walk = func(e *compiler.ValidationError) {
		if len(e.Causes) == 0 {
			msg := e.Message
			if key := strings.TrimPrefix(e.InstanceLocation, "/"); key != "" {
				msg = key + ": " + msg
			}
			msgs = append(msgs, msg)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return invalidArgument("invalid arguments: %s", strings.Join(msgs, "; "))
}

// mustParameters is ParametersFor for the fixed built-in argument types.
func mustParameters(args any) map[string]any {
	params, err := ParametersFor(args)
	if err != nil {
		panic(err)
	}
	return params
}
