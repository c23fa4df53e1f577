package imaging

import (
	"context"
	"errors"
	"time"
)

// ErrStudyNotFound indicates a lookup for a study identifier that has never
// been seen.
var ErrStudyNotFound = errors.New("study not found")

// InstanceRepository provides persistent storage for received instances.
type InstanceRepository interface {
	// RecordInstance persists a newly received instance and creates or
	// refreshes its owning study record in the same transaction. It is an
	// idempotent upsert: when the instance identifier already exists nothing
	// is written and created is false. A Closed study reopens to Collecting.
	RecordInstance(ctx context.Context, instance Instance) (created bool, err error)

	// GetInstance retrieves a single instance by its identifier.
	GetInstance(ctx context.Context, sopInstanceUID string) (Instance, error)

	// ListStudyInstances returns a study's instances ordered by receipt time
	// then identifier, giving the analysis engine a stable input ordering.
	ListStudyInstances(ctx context.Context, studyInstanceUID string) ([]Instance, error)
}

// StudyRepository provides persistent storage for study assembly state.
type StudyRepository interface {
	// GetStudy retrieves a study by its identifier.
	GetStudy(ctx context.Context, studyInstanceUID string) (*Study, error)

	// UpdateStudyStatus persists a study's assembly state transition. The
	// write is conditional on the study still being in the expected state so
	// concurrent assemblers cannot double-promote.
	UpdateStudyStatus(ctx context.Context, studyInstanceUID string, from, to StudyStatus, now time.Time) (bool, error)

	// FindIdleStudies returns Collecting studies whose last instance arrived
	// at or before the cutoff. Used to arm timers after a restart and by the
	// assembler's sweep loop.
	FindIdleStudies(ctx context.Context, cutoff time.Time) ([]*Study, error)

	// FindUnprocessedReadyStudies returns Ready studies with no non-terminal
	// job. The ready signal itself is in-process only, so a crash between the
	// promotion write and job creation would otherwise strand the study.
	FindUnprocessedReadyStudies(ctx context.Context) ([]*Study, error)
}
