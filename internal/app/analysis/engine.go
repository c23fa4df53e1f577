// Package analysis drives the scoring of ready studies: it feeds a study's
// instances to the analysis engine and normalizes the engine's output into
// domain findings.
package analysis

import "context"

// InstanceRef identifies one stored instance payload for the engine.
type InstanceRef struct {
	SOPInstanceUID string
	PayloadPath    string
}

// ScoreRequest is the engine's view of one study.
type ScoreRequest struct {
	StudyInstanceUID string
	Modality         string
	Instances        []InstanceRef
}

// RawFinding is one abnormality as reported by the engine, before confidence
// filtering and domain validation.
type RawFinding struct {
	Category     string
	Confidence   float64
	X            int
	Y            int
	Z            int
	Width        int
	Height       int
	Depth        int
	Severity     string
	Description  string
	Measurements map[string]any
}

// Engine scores a study's instances. Implementations signal failure modes
// with the package's sentinel errors so the analyzer can classify them.
type Engine interface {
	ScoreStudy(ctx context.Context, req ScoreRequest) ([]RawFinding, error)
}
