package labworkflow

import (
	"context"
	"errors"

	"ipms-mediator/internal/app/services/core/identity"
	"ipms-mediator/internal/app/services/core/saga"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/exceptions"
)

// SavePIMSPatient upserts the ordering system's patient into the identity
// registry.
func (w *IPMSWorkflow) SavePIMSPatient(ctx context.Context, envelope messaging.Envelope) saga.Result {
	return w.savePatient(ctx, envelope, constvars.TopicSavePIMSPatient)
}

// SaveIPMSPatient upserts the patient IPMS registered into the identity
// registry.
func (w *IPMSWorkflow) SaveIPMSPatient(ctx context.Context, envelope messaging.Envelope) saga.Result {
	return w.savePatient(ctx, envelope, constvars.TopicSaveIPMSPatient)
}

// savePatient accepts a bare Patient or a bundle carrying one.
func (w *IPMSWorkflow) savePatient(ctx context.Context, envelope messaging.Envelope, topic string) saga.Result {
	var err error
	switch envelope.Kind {
	case messaging.KindPatient:
		err = w.deps.Identity.ReconcilePatient(ctx, envelope.Patient, topic)
	case messaging.KindBundle:
		if envelope.Bundle == nil {
			err = exceptions.ErrResourceNotInBundle(nil, constvars.ResourcePatient)
			break
		}
		_, err = w.deps.Identity.Reconcile(ctx, envelope.Bundle, topic)
	default:
		err = exceptions.ErrEnvelopeUnknownKind(nil, string(envelope.Kind))
	}
	if err != nil {
		if errors.Is(err, identity.ErrNoIdentityKey) {
			err = &WorkflowError{Step: topic, Err: err}
		}
		return saga.Failed(envelope.Bundle, err)
	}
	return saga.Succeeded(envelope.Bundle)
}
