// Package envelope implements the Request Envelope (spec §3/§4.2, C6): the
// validated request shape every tool receives, plus the workflow extension
// fields multi-step tools add on top of it. Validation here mirrors the
// teacher's constructor-time validation style (capability.New, session's
// request structs) rather than a tagged-struct/reflection validator, since
// nothing in the pack pulls in a validation library for this kind of check.
package envelope

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jukasdrj/zen-mcp-server/internal/coreerr"
)

// ThinkingMode mirrors provider.ThinkingMode without importing the provider
// package, keeping envelope free of a dependency on the provider contract.
type ThinkingMode string

const (
	ThinkingMinimal ThinkingMode = "minimal"
	ThinkingLow     ThinkingMode = "low"
	ThinkingMedium  ThinkingMode = "medium"
	ThinkingHigh    ThinkingMode = "high"
	ThinkingMax     ThinkingMode = "max"
)

func (m ThinkingMode) valid() bool {
	switch m {
	case "", ThinkingMinimal, ThinkingLow, ThinkingMedium, ThinkingHigh, ThinkingMax:
		return true
	default:
		return false
	}
}

// ImageRef names an image supplied alongside a request, by path or inline
// bytes (mirrors provider.Image at the boundary).
type ImageRef struct {
	Path       string
	InlineData []byte
	MediaType  string
}

// Base is the envelope every tool invocation carries.
type Base struct {
	Prompt                       string
	Model                        string // canonical name, alias, or "auto"
	AbsoluteFilePaths            []string
	Images                       []ImageRef
	ContinuationID               string // UUID v4, or "" for a fresh thread
	WorkingDirectoryAbsolutePath string
	Temperature                  *float64
	ThinkingMode                 ThinkingMode
}

// Validate enforces the base envelope's field-level invariants (spec §3
// point 5 / the request validation bullets in §4.2 C6).
func (b Base) Validate() error {
	if strings.TrimSpace(b.Model) == "" {
		return coreerr.NewValidationError("model must not be empty")
	}
	if !filepath.IsAbs(b.WorkingDirectoryAbsolutePath) {
		return coreerr.NewValidationError("working_directory_absolute_path must be absolute")
	}
	for _, p := range b.AbsoluteFilePaths {
		if !filepath.IsAbs(p) {
			return coreerr.NewValidationError("absolute_file_paths entries must be absolute, got " + p)
		}
	}
	if b.ContinuationID != "" {
		if _, err := uuid.Parse(b.ContinuationID); err != nil {
			return coreerr.NewValidationError("continuation_id must be a valid UUID")
		}
	}
	if b.Temperature != nil && (*b.Temperature < 0 || *b.Temperature > 2) {
		return coreerr.NewValidationError("temperature must be in [0, 2]")
	}
	if !b.ThinkingMode.valid() {
		return coreerr.NewValidationError("thinking_mode must be one of minimal, low, medium, high, max")
	}
	return nil
}

// Confidence is the workflow step machine's confidence scale (spec §3,
// GLOSSARY), ordered from least to most certain.
type Confidence string

const (
	ConfidenceExploring     Confidence = "exploring"
	ConfidenceLow           Confidence = "low"
	ConfidenceMedium        Confidence = "medium"
	ConfidenceHigh          Confidence = "high"
	ConfidenceVeryHigh      Confidence = "very_high"
	ConfidenceAlmostCertain Confidence = "almost_certain"
	ConfidenceCertain       Confidence = "certain"
)

var confidenceOrder = map[Confidence]int{
	ConfidenceExploring:     0,
	ConfidenceLow:           1,
	ConfidenceMedium:        2,
	ConfidenceHigh:          3,
	ConfidenceVeryHigh:      4,
	ConfidenceAlmostCertain: 5,
	ConfidenceCertain:       6,
}

func (c Confidence) valid() bool {
	_, ok := confidenceOrder[c]
	return ok
}

// Rank returns the confidence's position in the progression, used to
// detect (permitted) regressions without driving state transitions.
func (c Confidence) Rank() int { return confidenceOrder[c] }

// Workflow extends Base with the multi-step fields spec §3/§4.2 C8 uses.
type Workflow struct {
	Base

	Step             string
	StepNumber       int
	TotalSteps       int
	NextStepRequired bool
	Findings         string
	Hypothesis       string
	Confidence       Confidence
	FilesChecked     []string
	RelevantFiles    []string
}

// Validate enforces both the base envelope's invariants and the workflow
// cross-field invariant step_number <= total_steps (spec §3 point "Cross-
// field invariant").
func (w Workflow) Validate() error {
	if err := w.Base.Validate(); err != nil {
		return err
	}
	if w.StepNumber < 1 {
		return coreerr.NewValidationError("step_number must be >= 1")
	}
	if w.TotalSteps < 1 {
		return coreerr.NewValidationError("total_steps must be >= 1")
	}
	if w.StepNumber > w.TotalSteps {
		return coreerr.NewValidationError("step_number must not exceed total_steps")
	}
	if !w.Confidence.valid() {
		return coreerr.NewValidationError("confidence must be one of the defined progression values")
	}
	for _, p := range w.FilesChecked {
		if !filepath.IsAbs(p) {
			return coreerr.NewValidationError("files_checked entries must be absolute, got " + p)
		}
	}
	for _, p := range w.RelevantFiles {
		if !filepath.IsAbs(p) {
			return coreerr.NewValidationError("relevant_files entries must be absolute, got " + p)
		}
	}
	return nil
}

// IsTerminalStep reports whether this step is the last one the client will
// send (spec §3 cross-field invariant: next_step_required=false => terminal).
func (w Workflow) IsTerminalStep() bool { return !w.NextStepRequired }
