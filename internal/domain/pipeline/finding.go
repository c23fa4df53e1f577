package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// Severity grades how urgent a finding is for the reading physician.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

func (s Severity) String() string { return string(s) }

// ParseSeverity converts a string to a Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "LOW":
		return SeverityLow
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	default:
		return "" // represents unspecified
	}
}

// Location is the spatial extent of a finding in instance pixel coordinates.
// Planar modalities carry a flat z/depth of 0/1.
type Location struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Z      int `json:"z"`
	Width  int `json:"width"`
	Height int `json:"height"`
	Depth  int `json:"depth"`
}

// FlatLocation builds a Location for a 2-D modality.
func FlatLocation(x, y, width, height int) Location {
	return Location{X: x, Y: y, Z: 0, Width: width, Height: height, Depth: 1}
}

// Finding is one detected abnormality owned by a job. Findings are created as
// a batch when analysis completes and are immutable thereafter.
type Finding struct {
	findingID    uuid.UUID
	jobID        uuid.UUID
	category     string
	confidence   float64
	location     Location
	severity     Severity
	description  string
	measurements map[string]any
}

// NewFinding creates a Finding after validating its confidence and severity.
func NewFinding(
	jobID uuid.UUID,
	category string,
	confidence float64,
	location Location,
	severity Severity,
	description string,
	measurements map[string]any,
) (Finding, error) {
	if confidence < 0 || confidence > 1 {
		return Finding{}, fmt.Errorf("finding confidence %f outside [0, 1]", confidence)
	}
	if severity == "" {
		return Finding{}, fmt.Errorf("finding severity is required")
	}

	return Finding{
		findingID:    uuid.New(),
		jobID:        jobID,
		category:     category,
		confidence:   confidence,
		location:     location,
		severity:     severity,
		description:  description,
		measurements: measurements,
	}, nil
}

// ReconstructFinding creates a Finding from stored fields. This should only be
// used by repositories when loading from the DB.
func ReconstructFinding(
	findingID uuid.UUID,
	jobID uuid.UUID,
	category string,
	confidence float64,
	location Location,
	severity Severity,
	description string,
	measurements map[string]any,
) Finding {
	return Finding{
		findingID:    findingID,
		jobID:        jobID,
		category:     category,
		confidence:   confidence,
		location:     location,
		severity:     severity,
		description:  description,
		measurements: measurements,
	}
}

// FindingID returns the unique identifier for this finding.
func (f Finding) FindingID() uuid.UUID { return f.findingID }

// JobID returns the identifier of the owning job.
func (f Finding) JobID() uuid.UUID { return f.jobID }

// Category returns the kind of abnormality detected.
func (f Finding) Category() string { return f.category }

// Confidence returns the engine's confidence score in [0, 1].
func (f Finding) Confidence() float64 { return f.confidence }

// Location returns the spatial extent of the finding.
func (f Finding) Location() Location { return f.location }

// Severity returns the urgency grade of the finding.
func (f Finding) Severity() Severity { return f.severity }

// Description returns the free-text description of the finding.
func (f Finding) Description() string { return f.description }

// Measurements returns the engine's structured measurements, if any.
func (f Finding) Measurements() map[string]any { return f.measurements }

// OverallConfidence is the mean of the findings' confidence scores, or zero
// when there are none.
func OverallConfidence(findings []Finding) float64 {
	if len(findings) == 0 {
		return 0
	}

	var total float64
	for _, f := range findings {
		total += f.Confidence()
	}
	return total / float64(len(findings))
}
