package analysis

import (
	"context"
	"fmt"
	"hash/fnv"
)

// modalityFindings maps each supported modality to the abnormality the
// bundled engine model looks for.
var modalityFindings = map[string]struct {
	category    string
	severity    string
	description string
}{
	"CT": {"pulmonary_nodule", "HIGH", "solid pulmonary nodule"},
	"MR": {"brain_lesion", "HIGH", "focal brain lesion"},
	"CR": {"pneumonia", "MEDIUM", "consolidation consistent with pneumonia"},
	"DX": {"pneumonia", "MEDIUM", "consolidation consistent with pneumonia"},
	"MG": {"microcalcifications", "MEDIUM", "clustered microcalcifications"},
}

var _ Engine = (*StubEngine)(nil)

// StubEngine is a deterministic in-process engine used until a real model
// service is wired in. The same study always scores to the same findings, so
// a retried analysis stage produces an identical batch.
type StubEngine struct{}

// NewStubEngine creates the bundled deterministic engine.
func NewStubEngine() *StubEngine { return &StubEngine{} }

// ScoreStudy derives findings from a hash of the study identifier. Roughly a
// third of studies come back clean.
func (e *StubEngine) ScoreStudy(ctx context.Context, req ScoreRequest) ([]RawFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile, ok := modalityFindings[req.Modality]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported modality %q", ErrInputRejected, req.Modality)
	}
	if len(req.Instances) == 0 {
		return nil, fmt.Errorf("%w: empty study", ErrInputRejected)
	}

	h := fnv.New64a()
	h.Write([]byte(req.StudyInstanceUID))
	seed := h.Sum64()

	if seed%3 == 0 {
		return nil, nil
	}

	count := int(seed%2) + 1
	volumetric := req.Modality == "CT" || req.Modality == "MR"

	findings := make([]RawFinding, 0, count)
	for i := 0; i < count; i++ {
		n := seed >> (8 * uint(i+1))

		depth := 1
		z := 0
		if volumetric {
			depth = int(n%12) + 2
			z = int(n % uint64(max(len(req.Instances), 1)))
		}

		findings = append(findings, RawFinding{
			Category:    profile.category,
			Confidence:  0.75 + float64(n%25)/100,
			X:           int(n % 480),
			Y:           int((n >> 4) % 480),
			Z:           z,
			Width:       int(n%28) + 4,
			Height:      int((n>>2)%28) + 4,
			Depth:       depth,
			Severity:    profile.severity,
			Description: fmt.Sprintf("%s (site %d)", profile.description, i+1),
			Measurements: map[string]any{
				"diameter_mm": float64(int(n%240)+40) / 10,
			},
		})
	}

	return findings, nil
}
