package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/pacsight/internal/domain/imaging"
	"github.com/ahrav/pacsight/internal/infra/storage"
)

func setupImagingTest(t *testing.T) (context.Context, *pgxpool.Pool, *instanceStore, *studyStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	instances := NewInstanceStore(db, storage.NoOpTracer())
	studies := NewStudyStore(db, storage.NoOpTracer())
	ctx := context.Background()

	return ctx, db, instances, studies, cleanup
}

func testInstance(studyUID, sopUID string, receivedAt time.Time) imaging.Instance {
	return imaging.NewInstance(
		sopUID,
		studyUID+".1",
		studyUID,
		"PAT001",
		imaging.ModalityCT,
		fmt.Sprintf("/var/lib/pacsight/payloads/%s.dcm", sopUID),
		524288,
		receivedAt,
	)
}

func TestInstanceStore_RecordAndGet(t *testing.T) {
	t.Parallel()
	ctx, _, instances, studies, cleanup := setupImagingTest(t)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Millisecond)
	inst := testInstance("1.2.840.100", "1.2.840.100.1.1", now)

	created, err := instances.RecordInstance(ctx, inst)
	require.NoError(t, err)
	assert.True(t, created)

	loaded, err := instances.GetInstance(ctx, inst.SOPInstanceUID())
	require.NoError(t, err)
	assert.Equal(t, inst.SOPInstanceUID(), loaded.SOPInstanceUID())
	assert.Equal(t, inst.StudyInstanceUID(), loaded.StudyInstanceUID())
	assert.Equal(t, inst.PatientID(), loaded.PatientID())
	assert.Equal(t, imaging.ModalityCT, loaded.Modality())
	assert.WithinDuration(t, now, loaded.ReceivedAt(), time.Second)

	// The study record comes into existence with the first instance.
	study, err := studies.GetStudy(ctx, inst.StudyInstanceUID())
	require.NoError(t, err)
	assert.Equal(t, imaging.StudyStatusCollecting, study.Status())
	assert.Equal(t, 1, study.InstanceCount())
}

func TestInstanceStore_NewStudyCountsEachInstance(t *testing.T) {
	t.Parallel()
	ctx, _, instances, studies, cleanup := setupImagingTest(t)
	defer cleanup()

	// The first instance of a brand-new study must create the study row
	// before the instance row references it; subsequent instances only bump
	// the count and refresh the idle window.
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, sop := range []string{"1.2.840.106.1.1", "1.2.840.106.1.2", "1.2.840.106.1.3"} {
		created, err := instances.RecordInstance(ctx, testInstance("1.2.840.106", sop, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		require.True(t, created)
	}

	study, err := studies.GetStudy(ctx, "1.2.840.106")
	require.NoError(t, err)
	assert.Equal(t, 3, study.InstanceCount())
	assert.WithinDuration(t, base.Add(2*time.Second), study.LastInstanceAt(), time.Second)
}

func TestInstanceStore_ReplayIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx, _, instances, studies, cleanup := setupImagingTest(t)
	defer cleanup()

	now := time.Now().UTC()
	inst := testInstance("1.2.840.101", "1.2.840.101.1.1", now)

	created, err := instances.RecordInstance(ctx, inst)
	require.NoError(t, err)
	assert.True(t, created)

	// A replay of the same identifier must not grow the count or refresh the
	// study's idle window.
	replay := testInstance("1.2.840.101", "1.2.840.101.1.1", now.Add(time.Minute))
	created, err = instances.RecordInstance(ctx, replay)
	require.NoError(t, err)
	assert.False(t, created)

	study, err := studies.GetStudy(ctx, "1.2.840.101")
	require.NoError(t, err)
	assert.Equal(t, 1, study.InstanceCount())
	assert.WithinDuration(t, now, study.LastInstanceAt(), time.Second)
}

func TestInstanceStore_ListOrdering(t *testing.T) {
	t.Parallel()
	ctx, _, instances, _, cleanup := setupImagingTest(t)
	defer cleanup()

	base := time.Now().UTC().Truncate(time.Millisecond)

	// Insert out of order; the list must come back ordered by receipt time
	// then identifier.
	for _, tc := range []struct {
		sopUID string
		offset time.Duration
	}{
		{"1.2.840.102.1.3", 2 * time.Second},
		{"1.2.840.102.1.1", 0},
		{"1.2.840.102.1.2", time.Second},
	} {
		created, err := instances.RecordInstance(ctx, testInstance("1.2.840.102", tc.sopUID, base.Add(tc.offset)))
		require.NoError(t, err)
		require.True(t, created)
	}

	listed, err := instances.ListStudyInstances(ctx, "1.2.840.102")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "1.2.840.102.1.1", listed[0].SOPInstanceUID())
	assert.Equal(t, "1.2.840.102.1.2", listed[1].SOPInstanceUID())
	assert.Equal(t, "1.2.840.102.1.3", listed[2].SOPInstanceUID())
}

func TestStudyStore_ConditionalStatusUpdate(t *testing.T) {
	t.Parallel()
	ctx, _, instances, studies, cleanup := setupImagingTest(t)
	defer cleanup()

	now := time.Now().UTC()
	created, err := instances.RecordInstance(ctx, testInstance("1.2.840.103", "1.2.840.103.1.1", now))
	require.NoError(t, err)
	require.True(t, created)

	updated, err := studies.UpdateStudyStatus(ctx, "1.2.840.103", imaging.StudyStatusCollecting, imaging.StudyStatusReady, now)
	require.NoError(t, err)
	assert.True(t, updated)

	// A second promote from Collecting loses the conditional write.
	updated, err = studies.UpdateStudyStatus(ctx, "1.2.840.103", imaging.StudyStatusCollecting, imaging.StudyStatusReady, now)
	require.NoError(t, err)
	assert.False(t, updated)

	study, err := studies.GetStudy(ctx, "1.2.840.103")
	require.NoError(t, err)
	assert.Equal(t, imaging.StudyStatusReady, study.Status())
}

func TestStudyStore_FindIdleStudies(t *testing.T) {
	t.Parallel()
	ctx, _, instances, studies, cleanup := setupImagingTest(t)
	defer cleanup()

	now := time.Now().UTC()

	created, err := instances.RecordInstance(ctx, testInstance("1.2.840.104", "1.2.840.104.1.1", now.Add(-time.Minute)))
	require.NoError(t, err)
	require.True(t, created)
	created, err = instances.RecordInstance(ctx, testInstance("1.2.840.105", "1.2.840.105.1.1", now))
	require.NoError(t, err)
	require.True(t, created)

	idle, err := studies.FindIdleStudies(ctx, now.Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "1.2.840.104", idle[0].StudyInstanceUID())
}

func TestStudyStore_FindUnprocessedReadyStudies(t *testing.T) {
	t.Parallel()
	ctx, db, instances, studies, cleanup := setupImagingTest(t)
	defer cleanup()

	now := time.Now().UTC()
	for _, uid := range []string{"1.2.840.110", "1.2.840.111", "1.2.840.112"} {
		created, err := instances.RecordInstance(ctx, testInstance(uid, uid+".1.1", now))
		require.NoError(t, err)
		require.True(t, created)
	}
	for _, uid := range []string{"1.2.840.110", "1.2.840.111"} {
		updated, err := studies.UpdateStudyStatus(ctx, uid, imaging.StudyStatusCollecting, imaging.StudyStatusReady, now)
		require.NoError(t, err)
		require.True(t, updated)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO jobs (job_id, study_instance_uid, status)
		VALUES (gen_random_uuid(), '1.2.840.111', 'ANALYZING')
	`)
	require.NoError(t, err)

	// Only the Ready study with no job at all qualifies: 111 has an active
	// job and 112 is still collecting.
	unprocessed, err := studies.FindUnprocessedReadyStudies(ctx)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, "1.2.840.110", unprocessed[0].StudyInstanceUID())

	// A Ready study whose only job is terminal is stranded the same way and
	// must surface too.
	_, err = db.Exec(ctx, `UPDATE jobs SET status = 'FAILED', completed_at = NOW() WHERE study_instance_uid = '1.2.840.111'`)
	require.NoError(t, err)

	unprocessed, err = studies.FindUnprocessedReadyStudies(ctx)
	require.NoError(t, err)
	require.Len(t, unprocessed, 2)
}

func TestStudyStore_GetStudyNotFound(t *testing.T) {
	t.Parallel()
	ctx, _, _, studies, cleanup := setupImagingTest(t)
	defer cleanup()

	_, err := studies.GetStudy(ctx, "1.2.840.999")
	require.ErrorIs(t, err, imaging.ErrStudyNotFound)
}
