package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache holds compiled schemas keyed by their serialized form.
// Tool schemas repeat across calls (one per tool), so compilation is
// amortized over the process lifetime.
var schemaCache sync.Map

// ValidateArguments checks parsed tool arguments against the tool's
// advertised input schema before the call goes out. A nil or empty schema
// accepts anything. A schema that fails to compile is the server's defect,
// not the caller's — validation is skipped rather than rejecting arguments
// we cannot check.
func ValidateArguments(schema any, args map[string]any) error {
	compiled, err := compileSchema(schema)
	if err != nil {
		slog.Debug("Tool input schema failed to compile, skipping validation",
			"error", err)
		return nil
	}
	if compiled == nil {
		return nil
	}

	// The validator operates on decoded JSON values; round-tripping
	// normalizes non-JSON primitives in the map (e.g. int64 from the
	// key-value argument parser).
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not JSON-encodable: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	return compiled.Validate(decoded)
}

// compileSchema compiles a tool's InputSchema, caching by serialized form.
// Returns (nil, nil) for absent schemas.
func compileSchema(schema any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	key := string(data)
	if key == "" || key == "null" {
		return nil, nil
	}

	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
