package analysis

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/pacsight/internal/domain/imaging"
	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/internal/infra/storage"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

// mockInstanceRepo implements imaging.InstanceRepository for testing.
type mockInstanceRepo struct{ mock.Mock }

func (m *mockInstanceRepo) RecordInstance(ctx context.Context, instance imaging.Instance) (bool, error) {
	args := m.Called(ctx, instance)
	return args.Bool(0), args.Error(1)
}

func (m *mockInstanceRepo) GetInstance(ctx context.Context, sopInstanceUID string) (imaging.Instance, error) {
	args := m.Called(ctx, sopInstanceUID)
	return args.Get(0).(imaging.Instance), args.Error(1)
}

func (m *mockInstanceRepo) ListStudyInstances(ctx context.Context, studyInstanceUID string) ([]imaging.Instance, error) {
	args := m.Called(ctx, studyInstanceUID)
	if instances := args.Get(0); instances != nil {
		return instances.([]imaging.Instance), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockEngine implements Engine for testing.
type mockEngine struct{ mock.Mock }

func (m *mockEngine) ScoreStudy(ctx context.Context, req ScoreRequest) ([]RawFinding, error) {
	args := m.Called(ctx, req)
	if findings := args.Get(0); findings != nil {
		return findings.([]RawFinding), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestAnalyzer(repo *mockInstanceRepo, engine Engine) *Analyzer {
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	return NewAnalyzer(repo, engine, time.Minute, log, storage.NoOpTracer())
}

func studyInstances(studyUID string, n int) []imaging.Instance {
	instances := make([]imaging.Instance, 0, n)
	for i := 0; i < n; i++ {
		instances = append(instances, imaging.NewInstance(
			studyUID+".1."+string(rune('1'+i)),
			studyUID+".1",
			studyUID,
			"PAT001",
			imaging.ModalityCT,
			"/var/lib/pacsight/payloads/x.dcm",
			1024,
			time.Now(),
		))
	}
	return instances
}

func TestAnalyzeStudyFiltersLowConfidence(t *testing.T) {
	t.Parallel()

	repo := new(mockInstanceRepo)
	engine := new(mockEngine)
	analyzer := newTestAnalyzer(repo, engine)

	job := pipeline.NewJob("1.2.840.50", time.Now())
	repo.On("ListStudyInstances", mock.Anything, "1.2.840.50").Return(studyInstances("1.2.840.50", 3), nil)
	engine.On("ScoreStudy", mock.Anything, mock.Anything).Return([]RawFinding{
		{Category: "pulmonary_nodule", Confidence: 0.95, Severity: "HIGH", Width: 10, Height: 10, Depth: 4},
		{Category: "pulmonary_nodule", Confidence: 0.62, Severity: "LOW", Width: 6, Height: 6, Depth: 2},
	}, nil)

	findings, err := analyzer.AnalyzeStudy(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "pulmonary_nodule", findings[0].Category())
	assert.Equal(t, pipeline.SeverityHigh, findings[0].Severity())
	assert.Equal(t, job.JobID(), findings[0].JobID())
}

func TestAnalyzeStudyCleanResult(t *testing.T) {
	t.Parallel()

	repo := new(mockInstanceRepo)
	engine := new(mockEngine)
	analyzer := newTestAnalyzer(repo, engine)

	job := pipeline.NewJob("1.2.840.51", time.Now())
	repo.On("ListStudyInstances", mock.Anything, "1.2.840.51").Return(studyInstances("1.2.840.51", 1), nil)
	engine.On("ScoreStudy", mock.Anything, mock.Anything).Return([]RawFinding{}, nil)

	findings, err := analyzer.AnalyzeStudy(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestAnalyzeStudyErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		engineErr error
		wantKind  pipeline.ErrorKind
	}{
		{name: "timeout", engineErr: context.DeadlineExceeded, wantKind: pipeline.ErrKindEngineTimeout},
		{name: "rejected", engineErr: ErrInputRejected, wantKind: pipeline.ErrKindEngineRejected},
		{name: "unavailable", engineErr: ErrEngineUnavailable, wantKind: pipeline.ErrKindEngineUnavailable},
		{name: "unknown defaults to unavailable", engineErr: errors.New("boom"), wantKind: pipeline.ErrKindEngineUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := new(mockInstanceRepo)
			engine := new(mockEngine)
			analyzer := newTestAnalyzer(repo, engine)

			job := pipeline.NewJob("1.2.840.52", time.Now())
			repo.On("ListStudyInstances", mock.Anything, mock.Anything).Return(studyInstances("1.2.840.52", 1), nil)
			engine.On("ScoreStudy", mock.Anything, mock.Anything).Return(nil, tc.engineErr)

			_, err := analyzer.AnalyzeStudy(context.Background(), job)
			var stageErr *pipeline.StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tc.wantKind, stageErr.Kind)
		})
	}
}

func TestAnalyzeStudyEmptyStudyRejected(t *testing.T) {
	t.Parallel()

	repo := new(mockInstanceRepo)
	engine := new(mockEngine)
	analyzer := newTestAnalyzer(repo, engine)

	job := pipeline.NewJob("1.2.840.53", time.Now())
	repo.On("ListStudyInstances", mock.Anything, mock.Anything).Return([]imaging.Instance{}, nil)

	_, err := analyzer.AnalyzeStudy(context.Background(), job)
	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.ErrKindEngineRejected, stageErr.Kind)
	assert.False(t, stageErr.Retryable())

	engine.AssertNotCalled(t, "ScoreStudy", mock.Anything, mock.Anything)
}

func TestStubEngineIsDeterministic(t *testing.T) {
	t.Parallel()

	engine := NewStubEngine()
	req := ScoreRequest{
		StudyInstanceUID: "1.2.840.99.7",
		Modality:         "CT",
		Instances:        []InstanceRef{{SOPInstanceUID: "1.2.840.99.7.1.1", PayloadPath: "/tmp/a.dcm"}},
	}

	first, err := engine.ScoreStudy(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.ScoreStudy(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for _, f := range first {
		assert.Equal(t, "pulmonary_nodule", f.Category)
		assert.GreaterOrEqual(t, f.Confidence, 0.75)
		assert.Less(t, f.Confidence, 1.0)
	}
}

func TestStubEngineRejectsUnsupportedModality(t *testing.T) {
	t.Parallel()

	engine := NewStubEngine()
	_, err := engine.ScoreStudy(context.Background(), ScoreRequest{
		StudyInstanceUID: "1.2.840.99.8",
		Modality:         "US",
		Instances:        []InstanceRef{{SOPInstanceUID: "x"}},
	})
	require.ErrorIs(t, err, ErrInputRejected)
}
