// Package receiving implements the inbound half of the transfer interface:
// validating received instances, persisting them idempotently, and announcing
// new arrivals to the rest of the pipeline.
package receiving

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pacsight/internal/domain/events"
	"github.com/ahrav/pacsight/internal/domain/imaging"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

// ReceiveInstanceCommand carries one validated instance transfer. Identifiers
// follow the DICOM UID grammar: digits and dots, up to 64 characters.
type ReceiveInstanceCommand struct {
	SOPInstanceUID    string `validate:"required,max=64,uid"`
	SeriesInstanceUID string `validate:"required,max=64,uid"`
	StudyInstanceUID  string `validate:"required,max=64,uid"`
	PatientID         string `validate:"required,max=64"`
	Modality          string `validate:"required"`
	PayloadPath       string `validate:"required"`
	SizeBytes         int64  `validate:"gte=0"`
}

// ValidationError marks a command rejected before any state changed. The
// transfer layer maps it to a protocol-level rejection.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid instance: field %s %s", e.Field, e.Reason)
}

// Service accepts instance transfers. Persistence is idempotent on the
// SOPInstanceUID so network-level retries of the same transfer are harmless,
// and exactly one InstanceReceived event is emitted per newly stored instance.
type Service struct {
	instanceRepo imaging.InstanceRepository
	publisher    events.DomainEventPublisher

	validate *validator.Validate
	logger   *logger.Logger
	tracer   trace.Tracer
}

// NewService creates a receiving service.
func NewService(
	instanceRepo imaging.InstanceRepository,
	publisher events.DomainEventPublisher,
	log *logger.Logger,
	tracer trace.Tracer,
) *Service {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// uid enforces the DICOM UID grammar: dot-separated numeric components.
	_ = validate.RegisterValidation("uid", func(fl validator.FieldLevel) bool {
		return IsValidUID(fl.Field().String())
	})

	return &Service{
		instanceRepo: instanceRepo,
		publisher:    publisher,
		validate:     validate,
		logger:       log.With("component", "receiving_service"),
		tracer:       tracer,
	}
}

// ReceiveInstance validates and persists one instance. It returns true when
// the instance was newly stored and false for a replayed identifier.
func (s *Service) ReceiveInstance(ctx context.Context, cmd ReceiveInstanceCommand) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "receiving_service.receive_instance",
		trace.WithAttributes(
			attribute.String("sop_instance_uid", cmd.SOPInstanceUID),
			attribute.String("study_instance_uid", cmd.StudyInstanceUID),
			attribute.String("modality", cmd.Modality),
		))
	defer span.End()

	if err := s.validateCommand(cmd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "instance rejected")
		return false, err
	}

	instance := imaging.NewInstance(
		cmd.SOPInstanceUID,
		cmd.SeriesInstanceUID,
		cmd.StudyInstanceUID,
		cmd.PatientID,
		imaging.ParseModality(cmd.Modality),
		cmd.PayloadPath,
		cmd.SizeBytes,
		time.Now().UTC(),
	)

	created, err := s.instanceRepo.RecordInstance(ctx, instance)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("recording instance: %w", err)
	}

	if !created {
		span.AddEvent("duplicate_instance_ignored")
		s.logger.Debug(ctx, "duplicate instance ignored",
			"sop_instance_uid", cmd.SOPInstanceUID,
			"study_instance_uid", cmd.StudyInstanceUID)
		return false, nil
	}

	span.AddEvent("instance_stored")
	if err := s.publisher.PublishDomainEvent(ctx,
		imaging.NewInstanceReceivedEvent(instance),
		events.WithKey(instance.StudyInstanceUID()),
	); err != nil {
		// The instance is durable; a lost event only delays assembly until
		// the next sweep picks the study up from persisted state.
		s.logger.Error(ctx, "failed to publish instance received event",
			"sop_instance_uid", cmd.SOPInstanceUID, "err", err)
	}

	s.logger.Info(ctx, "instance received",
		"sop_instance_uid", cmd.SOPInstanceUID,
		"study_instance_uid", cmd.StudyInstanceUID,
		"modality", cmd.Modality,
		"size_bytes", cmd.SizeBytes)
	return true, nil
}

func (s *Service) validateCommand(cmd ReceiveInstanceCommand) error {
	if imaging.ParseModality(cmd.Modality) == "" {
		return &ValidationError{Field: "Modality", Reason: fmt.Sprintf("%q is not supported", cmd.Modality)}
	}

	if err := s.validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Field(), Reason: "failed " + verrs[0].Tag()}
		}
		return &ValidationError{Field: "", Reason: err.Error()}
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		*target = verrs
		return true
	}
	return false
}

// IsValidUID reports whether s satisfies the identifier grammar: non-empty
// dot-separated numeric components, at most 64 characters. Transport handlers
// use it to reject identifiers before they reach a filesystem path.
func IsValidUID(s string) bool {
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	lastDot := true
	for _, c := range s {
		switch {
		case c == '.':
			if lastDot {
				return false
			}
			lastDot = true
		case c >= '0' && c <= '9':
			lastDot = false
		default:
			return false
		}
	}
	return !lastDot
}
