package labworkflow

import (
	"context"
	"errors"
	"time"

	"ipms-mediator/internal/app/services/core/saga"
	"ipms-mediator/internal/app/services/core/tasks"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"
	"ipms-mediator/internal/pkg/hl7"

	"go.uber.org/zap"
)

// SendADTToIPMS registers the order's patient with IPMS. The order is
// enriched with terminology and facility mappings, the PIMS patient is
// queued for identity reconciliation, and the ADT is sent over MLLP. Only
// an accepting ACK moves the Task to received.
func (w *IPMSWorkflow) SendADTToIPMS(ctx context.Context, envelope messaging.Envelope) saga.Result {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	bundle, result, done := w.outboundBundle(ctx, envelope, constvars.FhirTaskStatusReceived)
	if done {
		return result
	}

	mapped, err := w.deps.Concepts.MapOrderConcepts(ctx, bundle)
	if err != nil {
		return saga.Failed(bundle, err)
	}
	mapped, err = w.deps.Locations.MapLocations(ctx, mapped)
	if err != nil {
		return saga.Failed(bundle, err)
	}

	w.queuePatient(ctx, mapped, constvars.TopicSavePIMSPatient)

	message, err := w.toHL7(ctx, w.ipms.ADTTemplate, mapped, envelope)
	if err != nil {
		return saga.Failed(mapped, err)
	}
	accepted, err := w.exchange(ctx, mapped, message)
	if err != nil {
		return saga.Failed(mapped, err)
	}
	if accepted {
		if _, err := tasks.AdvanceTaskStatus(mapped, constvars.FhirTaskStatusReceived); err != nil {
			return saga.Failed(mapped, err)
		}
	}

	if err := w.persist(ctx, mapped, envelope); err != nil {
		if errors.Is(err, ErrOrderAdvanced) {
			return saga.Succeeded(mapped)
		}
		return saga.Failed(mapped, err)
	}

	if !accepted {
		w.log.Warn("IPMSWorkflow.SendADTToIPMS IPMS did not accept the ADT",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBundleIDKey, mapped.ID),
			zap.String(constvars.LoggingTaskStatusKey, tasks.GetTaskStatus(mapped)),
		)
		return saga.Failed(mapped, exceptions.ErrHL7AckNotAccepted(nil, "ADT", controlIDOf(message)))
	}
	return saga.Succeeded(mapped)
}

// SendORMToIPMS places the order with IPMS. An accepting ACK moves the Task
// to accepted.
func (w *IPMSWorkflow) SendORMToIPMS(ctx context.Context, envelope messaging.Envelope) saga.Result {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	bundle, result, done := w.outboundBundle(ctx, envelope, constvars.FhirTaskStatusAccepted)
	if done {
		return result
	}

	mapped, err := w.deps.Concepts.MapOrderConcepts(ctx, bundle)
	if err != nil {
		return saga.Failed(bundle, err)
	}

	message, err := w.toHL7(ctx, w.ipms.ORMTemplate, mapped, envelope)
	if err != nil {
		return saga.Failed(mapped, err)
	}
	accepted, err := w.exchange(ctx, mapped, message)
	if err != nil {
		return saga.Failed(mapped, err)
	}
	if accepted {
		if _, err := tasks.AdvanceTaskStatus(mapped, constvars.FhirTaskStatusAccepted); err != nil {
			return saga.Failed(mapped, err)
		}
	}

	if err := w.persist(ctx, mapped, envelope); err != nil {
		if errors.Is(err, ErrOrderAdvanced) {
			return saga.Succeeded(mapped)
		}
		return saga.Failed(mapped, err)
	}

	if !accepted {
		w.log.Warn("IPMSWorkflow.SendORMToIPMS IPMS did not accept the ORM",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBundleIDKey, mapped.ID),
			zap.String(constvars.LoggingTaskStatusKey, tasks.GetTaskStatus(mapped)),
		)
		return saga.Failed(mapped, exceptions.ErrHL7AckNotAccepted(nil, "ORM", controlIDOf(message)))
	}
	return saga.Succeeded(mapped)
}

// outboundBundle resolves the order a step runs on and whether it still can
// move to target. The decision is taken on the order as the shared health
// record holds it, not on the envelope: a redelivered envelope carries the
// snapshot taken when it was produced. done is set when the step must not
// run, either because the envelope is unusable or because the stored Task
// already reached target.
func (w *IPMSWorkflow) outboundBundle(ctx context.Context, envelope messaging.Envelope, target string) (*fhir_dto.FHIRBundle, saga.Result, bool) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	if envelope.Kind != messaging.KindBundle || envelope.Bundle == nil {
		return nil, saga.Failed(nil, exceptions.ErrEnvelopeUnknownKind(nil, string(envelope.Kind))), true
	}
	bundle := envelope.Bundle.Clone()
	_, task, err := tasks.FindTask(bundle)
	if err != nil {
		return nil, saga.Failed(bundle, err), true
	}

	stored, found, err := w.currentOrder(ctx, task.ID, envelope)
	if err != nil {
		return nil, saga.Failed(bundle, err), true
	}
	if found {
		bundle = overlayOrder(stored, bundle)
		if _, task, err = tasks.FindTask(bundle); err != nil {
			return nil, saga.Failed(bundle, err), true
		}
	}

	if task.Status == target || !tasks.CanTransition(task.Status, target) {
		w.log.Info("IPMSWorkflow.outboundBundle task already past this step",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTaskIDKey, task.ID),
			zap.String(constvars.LoggingTaskStatusFromKey, task.Status),
			zap.String(constvars.LoggingTaskStatusToKey, target),
			zap.Bool(constvars.LoggingStoredOrderKey, found),
		)
		return nil, saga.Succeeded(bundle), true
	}
	return bundle, saga.Result{}, false
}

// overlayOrder returns the stored order plus any resource of message the
// store does not hold yet. Stored resources win; entries without an id are
// dropped because the store assigned theirs on the first save.
func overlayOrder(stored, message *fhir_dto.FHIRBundle) *fhir_dto.FHIRBundle {
	order := stored.Clone()
	order.ID = message.ID
	for _, entry := range message.Entry {
		header := entry.Header()
		if header.ResourceType == "" || header.ID == "" {
			continue
		}
		if _, ok := order.IndexOf(header.ResourceType, header.ID); ok {
			continue
		}
		order.Entry = append(order.Entry, entry)
	}
	return order
}

// exchange sends message to IPMS and archives the exchange. The HL7 sender
// has already dead-lettered the message when it returns an error.
func (w *IPMSWorkflow) exchange(ctx context.Context, bundle *fhir_dto.FHIRBundle, message string) (bool, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	ack, err := w.deps.HL7.Send(ctx, message, w.ipms.Host, w.ipms.Port, w.retry.HL7Retries)
	if err != nil {
		w.log.Error("IPMSWorkflow.exchange MLLP send failed",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTargetHostKey, w.ipms.Host),
			zap.Int(constvars.LoggingTargetPortKey, w.ipms.Port),
			zap.Error(err),
		)
		return false, err
	}
	accepted := hl7.IsAccepted(ack)

	if w.ipms.ArchiveEnabled && w.deps.Archive != nil {
		record := workflow.ArchiveRecord{
			ControlID:  controlIDOf(message),
			TargetHost: w.ipms.Host,
			TargetPort: w.ipms.Port,
			Message:    message,
			Ack:        ack,
			Accepted:   accepted,
			SentAt:     time.Now().UTC(),
		}
		if parsed, err := hl7.Parse(message); err == nil {
			record.MessageType = parsed.Type
		}
		if _, task, err := tasks.FindTask(bundle); err == nil {
			record.TaskID = task.ID
		}
		if _, err := w.deps.Archive.StoreExchange(ctx, record); err != nil {
			w.log.Warn("IPMSWorkflow.exchange archive failed",
				zap.String(constvars.LoggingRequestIDKey, requestID),
				zap.String(constvars.LoggingControlIDKey, record.ControlID),
				zap.Error(err),
			)
		}
	}
	return accepted, nil
}

// queuePatient hands the bundle's Patient to identity reconciliation. It
// does not block the step: a failure is logged and the step carries on.
func (w *IPMSWorkflow) queuePatient(ctx context.Context, bundle *fhir_dto.FHIRBundle, topic string) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	indexes := bundle.IndexesOf(constvars.ResourcePatient)
	if len(indexes) == 0 {
		w.log.Warn("IPMSWorkflow.queuePatient bundle has no Patient",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBundleIDKey, bundle.ID),
		)
		return
	}
	envelope := messaging.NewPatientEnvelope(topic, bundle.Entry[indexes[0]].Resource)
	if err := w.deps.Producer.SendWithRetryToDeadLetter(ctx, envelope, topic, w.retry.MaxAttempts, w.retry.InitialDelay); err != nil {
		w.log.Warn("IPMSWorkflow.queuePatient failed to queue patient",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTopicKey, topic),
			zap.Error(err),
		)
	}
}

func controlIDOf(message string) string {
	parsed, err := hl7.Parse(message)
	if err != nil {
		return ""
	}
	return parsed.ControlID
}
