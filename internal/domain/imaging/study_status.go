package imaging

import "fmt"

// StudyStatus represents the assembly state of a study. It tracks the study
// lifecycle from the first received instance through readiness for analysis
// and eventual closure.
type StudyStatus string

const (
	// StudyStatusCollecting indicates instances are still arriving for the study.
	StudyStatusCollecting StudyStatus = "COLLECTING"

	// StudyStatusReady indicates the idle window elapsed and the study is
	// eligible for an analysis job.
	StudyStatusReady StudyStatus = "READY"

	// StudyStatusClosed indicates the study's job reached a terminal state.
	// A late instance reopens the study.
	StudyStatusClosed StudyStatus = "CLOSED"
)

func (s StudyStatus) String() string { return string(s) }

// ParseStudyStatus converts a string to a StudyStatus.
func ParseStudyStatus(s string) StudyStatus {
	switch s {
	case "COLLECTING":
		return StudyStatusCollecting
	case "READY":
		return StudyStatusReady
	case "CLOSED":
		return StudyStatusClosed
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s StudyStatus) ValidateTransition(target StudyStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid study status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the assembly lifecycle rules to prevent invalid
// state changes.
func (s StudyStatus) isValidTransition(target StudyStatus) bool {
	switch s {
	case StudyStatusCollecting:
		// A quiet period promotes the study to Ready.
		return target == StudyStatusReady
	case StudyStatusReady:
		// The study closes once its job terminates.
		return target == StudyStatusClosed
	case StudyStatusClosed:
		// A late instance reopens the study for another assembly round.
		return target == StudyStatusCollecting
	default:
		return false
	}
}
