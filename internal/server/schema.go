package server

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolCatalogEntry describes one registered tool for the /tools
// introspection endpoint: name, category, and a JSON Schema for its
// arguments, generated independently of the hand-built mcp.WithString/
// mcp.WithNumber option list buildMCPServer uses for the actual wire
// protocol. The two are meant to describe the same shape; this one exists
// for callers that want a single machine-readable schema document rather
// than probing the MCP tools/list response.
type ToolCatalogEntry struct {
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// chatArgs and debugArgs mirror the MCP argument shapes registered in
// buildMCPServer. They exist only as reflection targets for generateSchema;
// envelope.Base/Workflow carry no json/jsonschema tags of their own since
// bind.go builds them from a loosely-typed map by hand.
type chatArgs struct {
	Prompt                       string   `json:"prompt" jsonschema:"required,description=The question or instruction for the model."`
	Model                        string   `json:"model,omitempty" jsonschema:"description=Canonical model name, an alias, or auto."`
	ContinuationID               string   `json:"continuation_id,omitempty" jsonschema:"description=Thread ID to continue a prior conversation."`
	WorkingDirectoryAbsolutePath string   `json:"working_directory_absolute_path" jsonschema:"required"`
	AbsoluteFilePaths            []string `json:"absolute_file_paths,omitempty"`
}

type debugArgs struct {
	Step                         string `json:"step" jsonschema:"required"`
	StepNumber                   int    `json:"step_number" jsonschema:"required,minimum=1"`
	TotalSteps                   int    `json:"total_steps" jsonschema:"required,minimum=1"`
	NextStepRequired             bool   `json:"next_step_required" jsonschema:"required"`
	Findings                     string `json:"findings,omitempty"`
	Hypothesis                   string `json:"hypothesis,omitempty"`
	Confidence                   string `json:"confidence,omitempty" jsonschema:"enum=exploring|low|medium|high|very_high|almost_certain|certain"`
	Model                        string `json:"model,omitempty"`
	ContinuationID               string `json:"continuation_id,omitempty"`
	WorkingDirectoryAbsolutePath string `json:"working_directory_absolute_path" jsonschema:"required"`
}

// generateSchema reflects a JSON Schema for T's argument shape, inlining
// definitions rather than emitting $ref (callers get one flat document per
// tool). Adapted from the teacher's functiontool.generateSchema.
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// toolCatalog builds the /tools introspection document. A schema generation
// failure drops that entry rather than failing the whole catalog, since it
// reflects over types fixed at compile time and can only fail if one of them
// is malformed.
func toolCatalog() []ToolCatalogEntry {
	var entries []ToolCatalogEntry

	if schema, err := generateSchema[chatArgs](); err == nil {
		entries = append(entries, ToolCatalogEntry{
			Name:        "chat",
			Category:    "general",
			Description: "General-purpose collaborative chat with any configured model.",
			InputSchema: schema,
		})
	}

	if schema, err := generateSchema[debugArgs](); err == nil {
		entries = append(entries, ToolCatalogEntry{
			Name:        "debug",
			Category:    "reasoning",
			Description: "Multi-step investigation workflow: plan, investigate, and validate a root cause.",
			InputSchema: schema,
		})
	}

	return entries
}
