package identity

import (
	"context"
	"errors"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrNoIdentityKey is wrapped by every error raised for a patient carrying
// none of the reconciliation identifiers.
var ErrNoIdentityKey = errors.New("patient has no reconciliation identifier")

type IdentityReconciler struct {
	registry   contracts.IdentityRegistryClient
	cfg        config.Identity
	retry      config.Retry
	deadLetter contracts.DeadLetterSink
	log        *zap.Logger
}

func NewIdentityReconciler(registry contracts.IdentityRegistryClient, cfg config.Identity, retryConfig config.Retry, deadLetter contracts.DeadLetterSink, logger *zap.Logger) *IdentityReconciler {
	return &IdentityReconciler{
		registry:   registry,
		cfg:        cfg,
		retry:      retryConfig,
		deadLetter: deadLetter,
		log:        logger,
	}
}

// ResolveKey picks the national id, then the birth certificate, then the
// passport. The first one present wins.
func (r *IdentityReconciler) ResolveKey(patient fhir_dto.Patient) (workflow.IdentityKey, error) {
	for _, system := range []string{r.cfg.NationalIDSystem, r.cfg.BirthCertificateSystem, r.cfg.PassportSystem} {
		if system == "" {
			continue
		}
		if value, ok := patient.IdentifierValue(system); ok {
			return workflow.IdentityKey{System: system, Value: value}, nil
		}
	}
	return workflow.IdentityKey{}, exceptions.ErrPatientIdentityMissing(ErrNoIdentityKey)
}

// Reconcile upserts the bundle's Patient into the identity registry and
// returns the bundle unchanged. The registry's answer is only logged.
func (r *IdentityReconciler) Reconcile(ctx context.Context, bundle *fhir_dto.FHIRBundle, topic string) (*fhir_dto.FHIRBundle, error) {
	indexes := bundle.IndexesOf(constvars.ResourcePatient)
	if len(indexes) == 0 {
		return nil, exceptions.ErrResourceNotInBundle(nil, constvars.ResourcePatient)
	}
	if err := r.ReconcilePatient(ctx, bundle.Entry[indexes[0]].Resource, topic); err != nil {
		return nil, err
	}
	return bundle, nil
}

// ReconcilePatient upserts one Patient resource with the shared retry
// budget. Once the budget is spent the patient is dead-lettered under topic.
func (r *IdentityReconciler) ReconcilePatient(ctx context.Context, resource json.RawMessage, topic string) error {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	var patient fhir_dto.Patient
	if err := json.Unmarshal(resource, &patient); err != nil {
		return exceptions.ErrCannotParseJSON(err)
	}
	key, err := r.ResolveKey(patient)
	if err != nil {
		r.log.Error("IdentityReconciler.ReconcilePatient patient identity missing",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBundleIDKey, patient.ID),
			zap.Error(err),
		)
		return err
	}

	policy := retry.NewPolicy(r.retry, "upsert patient "+key.Token())
	if r.deadLetter != nil {
		policy = policy.WithDeadLetter(&retry.DeadLetter{
			Sink:    r.deadLetter,
			Topic:   topic,
			Payload: resource,
		})
	}
	_, err = retry.Do(ctx, r.log, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.registry.UpsertPatient(ctx, resource, key)
	}, nil)
	if err != nil {
		r.log.Error("IdentityReconciler.ReconcilePatient upsert failed",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingPatientIdentifierKey, key.Token()),
			zap.Bool(constvars.LoggingSuccessKey, false),
			zap.Error(err),
		)
		return err
	}

	r.log.Info("IdentityReconciler.ReconcilePatient patient upserted",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingPatientIdentifierKey, key.Token()),
	)
	return nil
}
