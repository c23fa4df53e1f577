package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job := NewJob("1.2.840.10.1", now)

	require.Equal(t, JobStatusReceived, job.Status())
	require.Equal(t, "1.2.840.10.1", job.StudyUID())

	require.NoError(t, job.UpdateStatus(JobStatusQueued, now))
	require.NoError(t, job.UpdateStatus(JobStatusAnalyzing, now))
	require.NoError(t, job.UpdateStatus(JobStatusReporting, now))
	require.NoError(t, job.UpdateStatus(JobStatusDelivering, now))

	_, done := job.CompletedAt()
	assert.False(t, done)

	end := now.Add(time.Minute)
	require.NoError(t, job.UpdateStatus(JobStatusDone, end))

	completedAt, done := job.CompletedAt()
	require.True(t, done)
	assert.Equal(t, end, completedAt)

	// Terminal states are immutable.
	require.Error(t, job.UpdateStatus(JobStatusQueued, end))
}

func TestJobRecordFailureBudget(t *testing.T) {
	t.Parallel()

	now := time.Now()
	job := NewJob("1.2.840.10.2", now)

	for i := 1; i < MaxAttempts; i++ {
		retryable := job.RecordFailure("engine unavailable", now)
		require.True(t, retryable, "attempt %d should leave budget", i)
		require.Equal(t, i, job.Attempts())
	}

	retryable := job.RecordFailure("engine unavailable", now)
	assert.False(t, retryable, "budget must be exhausted at attempt %d", MaxAttempts)
	assert.Equal(t, MaxAttempts, job.Attempts())
	assert.Equal(t, "engine unavailable", job.LastError())
}

func TestJobFailRecordsDetail(t *testing.T) {
	t.Parallel()

	now := time.Now()
	job := NewJob("1.2.840.10.3", now)
	require.NoError(t, job.UpdateStatus(JobStatusQueued, now))
	require.NoError(t, job.UpdateStatus(JobStatusAnalyzing, now))

	require.NoError(t, job.Fail("ENGINE_REJECTED: bad pixel data", now))

	assert.Equal(t, JobStatusFailed, job.Status())
	assert.Equal(t, "ENGINE_REJECTED: bad pixel data", job.LastError())
	_, done := job.CompletedAt()
	assert.True(t, done)
}

func TestStageErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{kind: ErrKindEngineUnavailable, retryable: true},
		{kind: ErrKindEngineTimeout, retryable: true},
		{kind: ErrKindTransport, retryable: true},
		{kind: ErrKindEngineRejected, retryable: false},
		{kind: ErrKindTemplate, retryable: false},
		{kind: ErrKindArchiveRejected, retryable: false},
	}

	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.retryable, tc.kind.Retryable())
		})
	}
}

func TestAsStageErrorDefaultsToTransient(t *testing.T) {
	t.Parallel()

	se := AsStageError(assert.AnError)
	require.NotNil(t, se)
	assert.Equal(t, ErrKindTransport, se.Kind)
	assert.True(t, se.Retryable())
}
