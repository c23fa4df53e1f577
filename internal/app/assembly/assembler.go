// Package assembly promotes studies from Collecting to Ready once their idle
// window elapses. The transfer protocol carries no completeness signal, so a
// quiet period is the only practical notion of "the study is done arriving".
package assembly

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/domain/events"
	"github.com/ahrav/pacsight/internal/domain/imaging"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

const defaultSweepInterval = 5 * time.Second

// Assembler periodically sweeps for idle Collecting studies and promotes them.
// Working off persisted state rather than in-process timers means a restart
// loses nothing: the first sweep after boot re-arms every pending study.
type Assembler struct {
	studyRepo imaging.StudyRepository
	publisher events.DomainEventPublisher

	idleTimeout   time.Duration
	sweepInterval time.Duration

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithSweepInterval overrides how often the assembler checks for idle studies.
func WithSweepInterval(interval time.Duration) Option {
	return func(a *Assembler) { a.sweepInterval = interval }
}

// NewAssembler creates an assembler with the given idle timeout.
func NewAssembler(
	studyRepo imaging.StudyRepository,
	publisher events.DomainEventPublisher,
	idleTimeout time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Assembler {
	a := &Assembler{
		studyRepo:     studyRepo,
		publisher:     publisher,
		idleTimeout:   idleTimeout,
		sweepInterval: defaultSweepInterval,
		logger:        log.With("component", "assembler"),
		tracer:        tracer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run sweeps until the context is cancelled. One sweep failing is logged and
// retried on the next tick rather than stopping assembly.
func (a *Assembler) Run(ctx context.Context) error {
	a.logger.Info(ctx, "assembler started",
		"idle_timeout", a.idleTimeout.String(),
		"sweep_interval", a.sweepInterval.String())

	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info(ctx, "assembler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.logger.Error(ctx, "assembly sweep failed", "err", err)
			}
		}
	}
}

// Sweep promotes every Collecting study whose idle window elapsed and returns
// the number promoted.
func (a *Assembler) Sweep(ctx context.Context) (int, error) {
	ctx, span := a.tracer.Start(ctx, "assembler.sweep")
	defer span.End()

	now := time.Now().UTC()
	cutoff := now.Add(-a.idleTimeout)

	idle, err := a.studyRepo.FindIdleStudies(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("finding idle studies: %w", err)
	}
	span.SetAttributes(attribute.Int("num_idle_studies", len(idle)))

	var promoted int
	for _, study := range idle {
		ok, err := a.promote(ctx, study, now)
		if err != nil {
			span.RecordError(err)
			a.logger.Error(ctx, "failed to promote study",
				"study_instance_uid", study.StudyInstanceUID(), "err", err)
			continue
		}
		if ok {
			promoted++
		}
	}

	span.SetAttributes(attribute.Int("num_promoted", promoted))
	return promoted, nil
}

func (a *Assembler) promote(ctx context.Context, study *imaging.Study, now time.Time) (bool, error) {
	if err := study.MarkReady(now, a.idleTimeout); err != nil {
		return false, err
	}

	// The write is conditional on the study still being in Collecting: losing
	// the race to a late instance or a concurrent sweep just skips the study.
	updated, err := a.studyRepo.UpdateStudyStatus(
		ctx,
		study.StudyInstanceUID(),
		imaging.StudyStatusCollecting,
		imaging.StudyStatusReady,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("updating study status: %w", err)
	}
	if !updated {
		return false, nil
	}

	if err := a.publisher.PublishDomainEvent(ctx,
		imaging.NewStudyReadyEvent(study),
		events.WithKey(study.StudyInstanceUID()),
	); err != nil {
		// The study row is already Ready; the orchestrator's recovery sweep
		// will eventually pick it up even without the event.
		a.logger.Error(ctx, "failed to publish study ready event",
			"study_instance_uid", study.StudyInstanceUID(), "err", err)
		return true, nil
	}

	a.logger.Info(ctx, "study ready",
		"study_instance_uid", study.StudyInstanceUID(),
		"modality", study.Modality().String(),
		"instance_count", study.InstanceCount())
	return true, nil
}
