package server

import (
	"github.com/jukasdrj/zen-mcp-server/internal/envelope"
)

// bindBase converts an MCP tool call's raw arguments into a Base envelope
// for simple tools (spec §4.2 C6's binding boundary, implemented as plain
// type assertions rather than a reflection-based decoder, matching the
// envelope package's own hand-rolled validation style).
func bindBase(args map[string]any) (any, error) {
	model := "auto"
	if v, ok := args["model"].(string); ok && v != "" {
		model = v
	}

	env := envelope.Base{
		Prompt:                       stringArg(args, "prompt"),
		Model:                        model,
		AbsoluteFilePaths:            stringSliceArg(args, "absolute_file_paths"),
		ContinuationID:               stringArg(args, "continuation_id"),
		WorkingDirectoryAbsolutePath: stringArg(args, "working_directory_absolute_path"),
		ThinkingMode:                 envelope.ThinkingMode(stringArg(args, "thinking_mode")),
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// bindWorkflow converts raw arguments into a Workflow envelope for the
// multi-step tools.
func bindWorkflow(args map[string]any) (any, error) {
	base, err := bindBase(args)
	if err != nil {
		return nil, err
	}

	env := envelope.Workflow{
		Base:             base.(envelope.Base),
		Step:             stringArg(args, "step"),
		StepNumber:       intArg(args, "step_number"),
		TotalSteps:       intArg(args, "total_steps"),
		NextStepRequired: boolArg(args, "next_step_required"),
		Findings:         stringArg(args, "findings"),
		Hypothesis:       stringArg(args, "hypothesis"),
		Confidence:       envelope.Confidence(stringArgDefault(args, "confidence", string(envelope.ConfidenceExploring))),
		FilesChecked:     stringSliceArg(args, "files_checked"),
		RelevantFiles:    stringSliceArg(args, "relevant_files"),
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func stringArgDefault(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
