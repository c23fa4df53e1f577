package pipeline

import "fmt"

// ReportStatus represents the delivery state of a report artifact.
type ReportStatus string

const (
	// ReportStatusPending indicates the artifact exists but the archive has
	// not confirmed receipt.
	ReportStatusPending ReportStatus = "PENDING"

	// ReportStatusSent indicates the archive accepted the report.
	ReportStatusSent ReportStatus = "SENT"

	// ReportStatusFailed indicates delivery was abandoned after exhausting
	// retries or a permanent rejection.
	ReportStatusFailed ReportStatus = "FAILED"
)

func (s ReportStatus) String() string { return string(s) }

// ParseReportStatus converts a string to a ReportStatus.
func ParseReportStatus(s string) ReportStatus {
	switch s {
	case "PENDING":
		return ReportStatusPending
	case "SENT":
		return ReportStatusSent
	case "FAILED":
		return ReportStatusFailed
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a delivery state transition is valid.
func (s ReportStatus) ValidateTransition(target ReportStatus) error {
	if s != ReportStatusPending || target == ReportStatusPending {
		return fmt.Errorf("invalid report status transition from %s to %s", s, target)
	}
	return nil
}
