package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/internal/infra/storage"
)

func setupJobTest(t *testing.T) (context.Context, *pgxpool.Pool, *jobStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewJobStore(db, storage.NoOpTracer())
	ctx := context.Background()

	return ctx, db, store, cleanup
}

// seedStudy satisfies the jobs foreign key; the imaging stores own study
// creation in production.
func seedStudy(t *testing.T, ctx context.Context, db *pgxpool.Pool, studyUID string) {
	t.Helper()

	_, err := db.Exec(ctx, `
		INSERT INTO studies (study_instance_uid, patient_id, modality, status, instance_count, last_instance_at)
		VALUES ($1, 'PAT001', 'CT', 'READY', 1, NOW())
	`, studyUID)
	require.NoError(t, err)
}

func TestJobStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx, db, store, cleanup := setupJobTest(t)
	defer cleanup()

	seedStudy(t, ctx, db, "1.2.840.200")

	job := pipeline.NewJob("1.2.840.200", time.Now().UTC())
	require.NoError(t, store.CreateJob(ctx, job))

	loaded, err := store.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, job.JobID(), loaded.JobID())
	assert.Equal(t, "1.2.840.200", loaded.StudyUID())
	assert.Equal(t, pipeline.JobStatusReceived, loaded.Status())
	assert.Zero(t, loaded.Attempts())
}

func TestJobStore_SecondActiveJobRejected(t *testing.T) {
	t.Parallel()
	ctx, db, store, cleanup := setupJobTest(t)
	defer cleanup()

	seedStudy(t, ctx, db, "1.2.840.201")

	now := time.Now().UTC()
	first := pipeline.NewJob("1.2.840.201", now)
	require.NoError(t, store.CreateJob(ctx, first))

	second := pipeline.NewJob("1.2.840.201", now)
	err := store.CreateJob(ctx, second)
	require.ErrorIs(t, err, pipeline.ErrActiveJobExists)

	// Once the first job is terminal the study can get a fresh one.
	require.NoError(t, first.UpdateStatus(pipeline.JobStatusQueued, now))
	require.NoError(t, first.UpdateStatus(pipeline.JobStatusAnalyzing, now))
	require.NoError(t, first.Fail("engine rejected input", now))
	require.NoError(t, store.UpdateJob(ctx, first))

	require.NoError(t, store.CreateJob(ctx, second))
}

func TestJobStore_ClaimQueuedIsExclusive(t *testing.T) {
	t.Parallel()
	ctx, db, store, cleanup := setupJobTest(t)
	defer cleanup()

	seedStudy(t, ctx, db, "1.2.840.202")

	now := time.Now().UTC()
	job := pipeline.NewJob("1.2.840.202", now)
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, job.UpdateStatus(pipeline.JobStatusQueued, now))
	require.NoError(t, store.UpdateJob(ctx, job))

	queued, err := store.ListQueued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, job.JobID(), queued[0].JobID())

	leaseUntil := now.Add(5 * time.Minute)
	claimed, err := store.ClaimQueued(ctx, job, leaseUntil)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Claimed jobs are no longer queued.
	queued, err = store.ListQueued(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)

	// A second claim sees the job already in Analyzing.
	claimed, err = store.ClaimQueued(ctx, job, leaseUntil)
	require.NoError(t, err)
	assert.False(t, claimed)

	loaded, err := store.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusAnalyzing, loaded.Status())
	assert.WithinDuration(t, leaseUntil, loaded.LeaseExpiresAt(), time.Second)
}

func TestJobStore_ReclaimStale(t *testing.T) {
	t.Parallel()
	ctx, db, store, cleanup := setupJobTest(t)
	defer cleanup()

	seedStudy(t, ctx, db, "1.2.840.203")
	seedStudy(t, ctx, db, "1.2.840.204")

	now := time.Now().UTC()

	// Stale: lease expired a minute ago.
	stale := pipeline.NewJob("1.2.840.203", now)
	require.NoError(t, store.CreateJob(ctx, stale))
	require.NoError(t, stale.UpdateStatus(pipeline.JobStatusQueued, now))
	require.NoError(t, stale.UpdateStatus(pipeline.JobStatusAnalyzing, now))
	stale.Claim(now.Add(-time.Minute))
	require.NoError(t, store.UpdateJob(ctx, stale))

	// Healthy: lease still in the future.
	healthy := pipeline.NewJob("1.2.840.204", now)
	require.NoError(t, store.CreateJob(ctx, healthy))
	require.NoError(t, healthy.UpdateStatus(pipeline.JobStatusQueued, now))
	require.NoError(t, healthy.UpdateStatus(pipeline.JobStatusAnalyzing, now))
	healthy.Claim(now.Add(5 * time.Minute))
	require.NoError(t, store.UpdateJob(ctx, healthy))

	reclaimed, err := store.ReclaimStale(ctx, now, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stale.JobID(), reclaimed[0].JobID())
	assert.Equal(t, pipeline.JobStatusAnalyzing, reclaimed[0].Status())

	// The reclaimed job's lease is refreshed so it is not picked up twice.
	reclaimed, err = store.ReclaimStale(ctx, now, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, reclaimed)
}

func TestJobStore_CompleteAnalysisPersistsFindings(t *testing.T) {
	t.Parallel()
	ctx, db, store, cleanup := setupJobTest(t)
	defer cleanup()

	seedStudy(t, ctx, db, "1.2.840.205")

	now := time.Now().UTC()
	job := pipeline.NewJob("1.2.840.205", now)
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, job.UpdateStatus(pipeline.JobStatusQueued, now))
	require.NoError(t, job.UpdateStatus(pipeline.JobStatusAnalyzing, now))
	require.NoError(t, store.UpdateJob(ctx, job))

	findings := make([]pipeline.Finding, 0, 2)
	for i := 0; i < 2; i++ {
		f, err := pipeline.NewFinding(
			job.JobID(),
			"pulmonary_nodule",
			0.91,
			pipeline.Location{X: 120 + i, Y: 240, Z: 30, Width: 14, Height: 14, Depth: 6},
			pipeline.SeverityHigh,
			fmt.Sprintf("nodule %d in right upper lobe", i+1),
			map[string]any{"diameter_mm": 8.4},
		)
		require.NoError(t, err)
		findings = append(findings, f)
	}

	require.NoError(t, job.UpdateStatus(pipeline.JobStatusReporting, now))
	require.NoError(t, store.CompleteAnalysis(ctx, job, findings))

	loaded, err := store.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusReporting, loaded.Status())

	findingStore := NewFindingStore(db, storage.NoOpTracer())
	stored, err := findingStore.ListJobFindings(ctx, job.JobID())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, findings[0].FindingID(), stored[0].FindingID())
	assert.Equal(t, "pulmonary_nodule", stored[0].Category())
	assert.Equal(t, pipeline.SeverityHigh, stored[0].Severity())
	assert.InDelta(t, 0.91, stored[0].Confidence(), 0.0001)
	assert.Equal(t, findings[0].Location(), stored[0].Location())
	assert.Equal(t, 8.4, stored[0].Measurements()["diameter_mm"])
}

func TestJobStore_CountsAndRecentFailures(t *testing.T) {
	t.Parallel()
	ctx, db, store, cleanup := setupJobTest(t)
	defer cleanup()

	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		studyUID := fmt.Sprintf("1.2.840.21%d", i)
		seedStudy(t, ctx, db, studyUID)

		job := pipeline.NewJob(studyUID, now)
		require.NoError(t, store.CreateJob(ctx, job))
		require.NoError(t, job.UpdateStatus(pipeline.JobStatusQueued, now))
		require.NoError(t, job.UpdateStatus(pipeline.JobStatusAnalyzing, now))

		if i < 2 {
			require.NoError(t, job.Fail("engine rejected input", now.Add(time.Duration(i)*time.Second)))
		}
		require.NoError(t, store.UpdateJob(ctx, job))
	}

	counts, err := store.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[pipeline.JobStatusFailed])
	assert.Equal(t, 1, counts[pipeline.JobStatusAnalyzing])

	failures, err := store.RecentFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	// Newest failure first.
	assert.Equal(t, "1.2.840.211", failures[0].StudyUID())
	assert.Equal(t, "engine rejected input", failures[0].LastError())
}
