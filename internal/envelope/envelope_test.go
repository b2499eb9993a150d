package envelope

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBase() Base {
	return Base{
		Prompt:                       "hello",
		Model:                        "auto",
		WorkingDirectoryAbsolutePath: "/tmp",
	}
}

func TestBase_ValidateAcceptsWellFormedEnvelope(t *testing.T) {
	b := validBase()
	assert.NoError(t, b.Validate())
}

func TestBase_ValidateRejectsEmptyModel(t *testing.T) {
	b := validBase()
	b.Model = ""
	require.Error(t, b.Validate())
}

func TestBase_ValidateRejectsRelativeWorkingDirectory(t *testing.T) {
	b := validBase()
	b.WorkingDirectoryAbsolutePath = "relative/path"
	require.Error(t, b.Validate())
}

func TestBase_ValidateRejectsRelativeFilePath(t *testing.T) {
	b := validBase()
	b.AbsoluteFilePaths = []string{"not/absolute.go"}
	require.Error(t, b.Validate())
}

func TestBase_ValidateRejectsMalformedContinuationID(t *testing.T) {
	b := validBase()
	b.ContinuationID = "not-a-uuid"
	require.Error(t, b.Validate())
}

func TestBase_ValidateAcceptsValidContinuationID(t *testing.T) {
	b := validBase()
	b.ContinuationID = uuid.NewString()
	assert.NoError(t, b.Validate())
}

func TestBase_ValidateRejectsOutOfRangeTemperature(t *testing.T) {
	b := validBase()
	tooHigh := 2.5
	b.Temperature = &tooHigh
	require.Error(t, b.Validate())
}

func TestBase_ValidateRejectsUnknownThinkingMode(t *testing.T) {
	b := validBase()
	b.ThinkingMode = "extreme"
	require.Error(t, b.Validate())
}

func validWorkflow() Workflow {
	return Workflow{
		Base:             validBase(),
		Step:             "investigate the bug",
		StepNumber:       1,
		TotalSteps:       3,
		NextStepRequired: true,
		Findings:         "nothing yet",
		Confidence:       ConfidenceExploring,
	}
}

func TestWorkflow_ValidateAcceptsWellFormedStep(t *testing.T) {
	w := validWorkflow()
	assert.NoError(t, w.Validate())
}

func TestWorkflow_ValidateRejectsStepNumberExceedingTotalSteps(t *testing.T) {
	w := validWorkflow()
	w.StepNumber = 4
	w.TotalSteps = 3
	require.Error(t, w.Validate())
}

func TestWorkflow_ValidateRejectsUnknownConfidence(t *testing.T) {
	w := validWorkflow()
	w.Confidence = "very_unsure"
	require.Error(t, w.Validate())
}

func TestWorkflow_IsTerminalStepReflectsNextStepRequired(t *testing.T) {
	w := validWorkflow()
	assert.False(t, w.IsTerminalStep())
	w.NextStepRequired = false
	assert.True(t, w.IsTerminalStep())
}

func TestConfidence_RankOrdersProgressionMonotonically(t *testing.T) {
	assert.Less(t, ConfidenceExploring.Rank(), ConfidenceLow.Rank())
	assert.Less(t, ConfidenceLow.Rank(), ConfidenceMedium.Rank())
	assert.Less(t, ConfidenceMedium.Rank(), ConfidenceHigh.Rank())
	assert.Less(t, ConfidenceHigh.Rank(), ConfidenceVeryHigh.Rank())
	assert.Less(t, ConfidenceVeryHigh.Rank(), ConfidenceAlmostCertain.Rank())
	assert.Less(t, ConfidenceAlmostCertain.Rank(), ConfidenceCertain.Rank())
}
