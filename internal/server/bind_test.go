package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukasdrj/zen-mcp-server/internal/envelope"
)

func TestBindBase_DefaultsModelToAutoWhenOmitted(t *testing.T) {
	bound, err := bindBase(map[string]any{
		"prompt":                          "hello",
		"working_directory_absolute_path": "/tmp",
	})
	require.NoError(t, err)
	env := bound.(envelope.Base)
	assert.Equal(t, "auto", env.Model)
	assert.Equal(t, "hello", env.Prompt)
}

func TestBindBase_RejectsRelativeWorkingDirectory(t *testing.T) {
	_, err := bindBase(map[string]any{
		"prompt":                          "hi",
		"working_directory_absolute_path": "relative/path",
	})
	require.Error(t, err)
}

func TestBindBase_ParsesFilePathList(t *testing.T) {
	bound, err := bindBase(map[string]any{
		"prompt":                          "hi",
		"working_directory_absolute_path": "/tmp",
		"absolute_file_paths":             []any{"/tmp/a.go", "/tmp/b.go"},
	})
	require.NoError(t, err)
	env := bound.(envelope.Base)
	assert.Equal(t, []string{"/tmp/a.go", "/tmp/b.go"}, env.AbsoluteFilePaths)
}

func TestBindWorkflow_ParsesStepFieldsAndDefaultsConfidence(t *testing.T) {
	bound, err := bindWorkflow(map[string]any{
		"working_directory_absolute_path": "/tmp",
		"step":                            "look at the logs",
		"step_number":                     float64(1),
		"total_steps":                     float64(3),
		"next_step_required":              true,
	})
	require.NoError(t, err)
	w := bound.(envelope.Workflow)
	assert.Equal(t, 1, w.StepNumber)
	assert.Equal(t, 3, w.TotalSteps)
	assert.True(t, w.NextStepRequired)
	assert.Equal(t, envelope.ConfidenceExploring, w.Confidence)
}

func TestBindWorkflow_RejectsStepNumberExceedingTotalSteps(t *testing.T) {
	_, err := bindWorkflow(map[string]any{
		"working_directory_absolute_path": "/tmp",
		"step":                            "x",
		"step_number":                     float64(5),
		"total_steps":                     float64(3),
		"next_step_required":              false,
		"confidence":                      "certain",
	})
	require.Error(t, err)
}
