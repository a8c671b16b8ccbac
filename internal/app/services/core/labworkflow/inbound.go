package labworkflow

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ipms-mediator/internal/app/services/core/saga"
	"ipms-mediator/internal/app/services/core/tasks"
	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// openTaskStatuses are the statuses an order can be in while IPMS has not
// yet confirmed placement.
var openTaskStatuses = []string{constvars.FhirTaskStatusRequested, constvars.FhirTaskStatusReceived}

// HandleADTFromIPMS matches an IPMS registration to the patient's open
// order and queues that order for SEND_ORM_TO_IPMS. A patient without any
// reconciliation identifier is a WorkflowError.
func (w *IPMSWorkflow) HandleADTFromIPMS(ctx context.Context, envelope messaging.Envelope) saga.Result {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	if envelope.Kind != messaging.KindMessage || envelope.Message == "" {
		return saga.Failed(nil, exceptions.ErrEnvelopeUnknownKind(nil, string(envelope.Kind)))
	}
	translated, err := w.toFHIR(ctx, envelope.Message, envelope)
	if err != nil {
		return saga.Failed(nil, err)
	}

	patient, err := firstPatient(translated)
	if err != nil {
		return saga.Failed(translated, &WorkflowError{Step: constvars.TopicHandleADTFromIPMS, Err: err})
	}
	key, err := w.deps.Identity.ResolveKey(patient)
	if err != nil {
		w.log.Error("IPMSWorkflow.HandleADTFromIPMS patient cannot be resolved",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBundleIDKey, translated.ID),
			zap.Error(err),
		)
		return saga.Failed(translated, &WorkflowError{Step: constvars.TopicHandleADTFromIPMS, Err: err})
	}

	w.queuePatient(ctx, translated, constvars.TopicSaveIPMSPatient)

	task, err := w.matchOpenTask(ctx, key, envelope)
	if err != nil {
		return saga.Failed(translated, err)
	}

	var orderBundle *fhir_dto.FHIRBundle
	err = w.withOrderLock(ctx, task.ID, func(ctx context.Context) error {
		var err error
		if orderBundle, err = w.taskBundle(ctx, task.ID, envelope); err != nil {
			return err
		}
		if err := mergePatientIdentifiers(orderBundle, patient); err != nil {
			return err
		}
		next := messaging.NewBundleEnvelope(constvars.TopicSendORMToIPMS, orderBundle)
		return w.deps.Producer.SendWithRetryToDeadLetter(ctx, next, constvars.TopicSendORMToIPMS, w.retry.MaxAttempts, w.retry.InitialDelay)
	})
	if err != nil {
		if orderBundle == nil {
			orderBundle = translated
		}
		return saga.Failed(orderBundle, err)
	}

	w.log.Info("IPMSWorkflow.HandleADTFromIPMS order queued for placement",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingTaskIDKey, task.ID),
		zap.String(constvars.LoggingPatientIdentifierKey, key.Token()),
	)
	return saga.Succeeded(orderBundle)
}

// HandleORUFromIPMS attaches IPMS results to the originating order and
// completes its Task. The order is found through the lab order identifier
// the result carries.
func (w *IPMSWorkflow) HandleORUFromIPMS(ctx context.Context, envelope messaging.Envelope) saga.Result {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	if envelope.Kind != messaging.KindMessage || envelope.Message == "" {
		return saga.Failed(nil, exceptions.ErrEnvelopeUnknownKind(nil, string(envelope.Kind)))
	}
	translated, err := w.toFHIR(ctx, envelope.Message, envelope)
	if err != nil {
		return saga.Failed(nil, err)
	}
	results, err := w.deps.Concepts.MapResultConcepts(ctx, translated)
	if err != nil {
		return saga.Failed(translated, err)
	}

	labOrder, ok := w.labOrderIdentifier(results)
	if !ok {
		err := exceptions.ErrLabOrderIdentifierAbsent(nil)
		w.log.Error("IPMSWorkflow.HandleORUFromIPMS result has no lab order identifier",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBundleIDKey, results.ID),
		)
		return saga.Failed(results, &WorkflowError{Step: constvars.TopicHandleORUFromIPMS, Err: err})
	}

	task, err := w.findOrderTask(ctx, labOrder, envelope)
	if err != nil {
		return saga.Failed(results, err)
	}
	var (
		orderBundle *fhir_dto.FHIRBundle
		completed   bool
	)
	err = w.withOrderLock(ctx, task.ID, func(ctx context.Context) error {
		var err error
		if orderBundle, err = w.taskBundle(ctx, task.ID, envelope); err != nil {
			return err
		}
		if tasks.GetTaskStatus(orderBundle) == constvars.FhirTaskStatusCompleted {
			completed = true
			return nil
		}
		if err := attachResults(orderBundle, results, labOrder); err != nil {
			return err
		}
		if _, err := tasks.AdvanceTaskStatus(orderBundle, constvars.FhirTaskStatusCompleted); err != nil {
			return err
		}
		if err := w.persist(ctx, orderBundle, envelope); err != nil {
			if errors.Is(err, ErrOrderAdvanced) {
				completed = true
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		if orderBundle == nil {
			orderBundle = results
		}
		return saga.Failed(orderBundle, err)
	}
	if completed {
		w.log.Info("IPMSWorkflow.HandleORUFromIPMS order already completed",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTaskIDKey, task.ID),
		)
		return saga.Succeeded(orderBundle)
	}

	w.log.Info("IPMSWorkflow.HandleORUFromIPMS results attached",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingTaskIDKey, task.ID),
		zap.String(constvars.LoggingLabOrderIdentifierKey, labOrder),
	)
	return saga.Succeeded(orderBundle)
}

// matchOpenTask picks the open Task for the patient. When several match,
// the latest authoredOn wins; this is a heuristic and is logged.
func (w *IPMSWorkflow) matchOpenTask(ctx context.Context, key workflow.IdentityKey, envelope messaging.Envelope) (fhir_dto.Task, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	query := url.Values{}
	query.Set(constvars.FhirSearchParamStatus, strings.Join(openTaskStatuses, ","))
	query.Set(constvars.FhirSearchParamPatient+"."+constvars.FhirSearchParamIdentifier, key.Token())

	candidates, err := w.searchTasks(ctx, query, envelope)
	if err != nil {
		return fhir_dto.Task{}, err
	}
	if len(candidates) == 0 {
		w.log.Warn("IPMSWorkflow.matchOpenTask no open order for patient",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingPatientIdentifierKey, key.Token()),
		)
		return fhir_dto.Task{}, &WorkflowError{
			Step: constvars.TopicHandleADTFromIPMS,
			Err:  exceptions.ErrLabOrderNotMatched(nil, constvars.FhirTaskStatusRequested, key.Token()),
		}
	}

	chosen := latestAuthored(candidates)
	if len(candidates) > 1 {
		w.log.Warn("IPMSWorkflow.matchOpenTask several open orders for patient, picking the latest authored",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingPatientIdentifierKey, key.Token()),
			zap.Int(constvars.LoggingCandidateCountKey, len(candidates)),
			zap.String(constvars.LoggingTaskIDKey, chosen.ID),
		)
	}
	return chosen, nil
}

func (w *IPMSWorkflow) findOrderTask(ctx context.Context, labOrder string, envelope messaging.Envelope) (fhir_dto.Task, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	token := w.identity.LabOrderSystem + "|" + labOrder

	query := url.Values{}
	query.Set(constvars.FhirSearchParamIdentifier, token)

	candidates, err := w.searchTasks(ctx, query, envelope)
	if err != nil {
		return fhir_dto.Task{}, err
	}
	if len(candidates) == 0 {
		w.log.Warn("IPMSWorkflow.findOrderTask no order carries the lab order identifier",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingLabOrderIdentifierKey, token),
		)
		return fhir_dto.Task{}, &WorkflowError{
			Step: constvars.TopicHandleORUFromIPMS,
			Err:  exceptions.ErrLabOrderNotMatched(nil, constvars.FhirTaskStatusAccepted, token),
		}
	}
	return latestAuthored(candidates), nil
}

func (w *IPMSWorkflow) searchTasks(ctx context.Context, query url.Values, envelope messaging.Envelope) ([]fhir_dto.Task, error) {
	found, err := retry.Do(ctx, w.log, w.policy("search tasks", envelope), func(ctx context.Context) (*fhir_dto.FHIRBundle, error) {
		return w.deps.SHR.SearchBundle(ctx, constvars.ResourceTask, query)
	}, nil)
	if err != nil {
		return nil, err
	}

	var candidates []fhir_dto.Task
	for _, index := range found.IndexesOf(constvars.ResourceTask) {
		var task fhir_dto.Task
		if err := found.DecodeEntry(index, &task); err != nil {
			return nil, err
		}
		candidates = append(candidates, task)
	}
	return candidates, nil
}

// taskBundle loads an order a search has just matched. A Task that vanished
// in between cannot be worked on and is a WorkflowError.
func (w *IPMSWorkflow) taskBundle(ctx context.Context, taskID string, envelope messaging.Envelope) (*fhir_dto.FHIRBundle, error) {
	stored, found, err := w.currentOrder(ctx, taskID, envelope)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &WorkflowError{Step: envelope.Topic, Err: exceptions.ErrNoDataFHIRResource(nil, constvars.ResourceTask)}
	}
	return stored, nil
}

// labOrderIdentifier looks for the shared lab order identifier on any
// result resource, either as its own identifier or on a basedOn reference.
func (w *IPMSWorkflow) labOrderIdentifier(bundle *fhir_dto.FHIRBundle) (string, bool) {
	type identified struct {
		Identifier []fhir_dto.Identifier `json:"identifier"`
		BasedOn    []fhir_dto.Reference  `json:"basedOn"`
	}
	for _, entry := range bundle.Entry {
		var resource identified
		if err := json.Unmarshal(entry.Resource, &resource); err != nil {
			continue
		}
		for _, identifier := range resource.Identifier {
			if identifier.System == w.identity.LabOrderSystem && identifier.Value != "" {
				return identifier.Value, true
			}
		}
		for _, reference := range resource.BasedOn {
			if reference.Identifier != nil && reference.Identifier.System == w.identity.LabOrderSystem && reference.Identifier.Value != "" {
				return reference.Identifier.Value, true
			}
		}
	}
	return "", false
}

func latestAuthored(candidates []fhir_dto.Task) fhir_dto.Task {
	chosen := candidates[0]
	chosenAt := authoredAt(chosen)
	for _, task := range candidates[1:] {
		if at := authoredAt(task); at.After(chosenAt) {
			chosen, chosenAt = task, at
		}
	}
	return chosen
}

func authoredAt(task fhir_dto.Task) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if at, err := time.Parse(layout, task.AuthoredOn); err == nil {
			return at
		}
	}
	return time.Time{}
}

func firstPatient(bundle *fhir_dto.FHIRBundle) (fhir_dto.Patient, error) {
	indexes := bundle.IndexesOf(constvars.ResourcePatient)
	if len(indexes) == 0 {
		return fhir_dto.Patient{}, exceptions.ErrResourceNotInBundle(nil, constvars.ResourcePatient)
	}
	var patient fhir_dto.Patient
	if err := bundle.DecodeEntry(indexes[0], &patient); err != nil {
		return fhir_dto.Patient{}, err
	}
	return patient, nil
}

// mergePatientIdentifiers adds the identifiers IPMS assigned to the order's
// Patient, keeping the ones already there.
func mergePatientIdentifiers(bundle *fhir_dto.FHIRBundle, source fhir_dto.Patient) error {
	indexes := bundle.IndexesOf(constvars.ResourcePatient)
	if len(indexes) == 0 {
		return nil
	}
	var target fhir_dto.Patient
	if err := bundle.DecodeEntry(indexes[0], &target); err != nil {
		return err
	}

	merged := append([]fhir_dto.Identifier(nil), target.Identifier...)
	for _, identifier := range source.Identifier {
		if identifier.System == "" || identifier.Value == "" {
			continue
		}
		if _, ok := target.IdentifierValue(identifier.System); ok {
			continue
		}
		merged = append(merged, identifier)
	}
	if len(merged) == len(target.Identifier) {
		return nil
	}
	return bundle.PatchEntry(indexes[0], map[string]interface{}{"identifier": merged})
}

// attachResults copies DiagnosticReports and Observations from results into
// the order bundle and references every report from Task.output. Entries
// already present are replaced so a redelivered ORU does not duplicate them.
func attachResults(order, results *fhir_dto.FHIRBundle, labOrder string) error {
	taskIndex, task, err := tasks.FindTask(order)
	if err != nil {
		return err
	}

	outputs := append([]fhir_dto.TaskOutput(nil), task.Output...)
	referenced := make(map[string]bool, len(outputs))
	for _, output := range outputs {
		referenced[output.ValueReference.Reference] = true
	}

	for _, resourceType := range []string{constvars.ResourceDiagnosticReport, constvars.ResourceObservation} {
		for position, index := range results.IndexesOf(resourceType) {
			entry := results.Entry[index]
			id := entry.Header().ID
			patch := map[string]interface{}{}
			if id == "" {
				id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(labOrder+"/"+resourceType+"/"+strconv.Itoa(position))).String()
				patch["id"] = id
			}
			if task.For != nil {
				patch["subject"] = task.For
			}

			scratch := &fhir_dto.FHIRBundle{Entry: []fhir_dto.Entry{{Resource: entry.Resource}}}
			if len(patch) > 0 {
				if err := scratch.PatchEntry(0, patch); err != nil {
					return err
				}
			}
			resource := scratch.Entry[0].Resource

			if existing, ok := order.IndexOf(resourceType, id); ok {
				order.Entry[existing].Resource = resource
			} else if err := order.AppendResource(resourceType, id, resource); err != nil {
				return err
			}

			reference := fhir_dto.ReferenceTo(resourceType, id)
			if resourceType == constvars.ResourceDiagnosticReport && !referenced[reference] {
				outputs = append(outputs, fhir_dto.TaskOutput{
					Type:           fhir_dto.CodeableConcept{Text: constvars.ResourceDiagnosticReport},
					ValueReference: fhir_dto.Reference{Reference: reference},
				})
				referenced[reference] = true
			}
		}
	}

	return order.PatchEntry(taskIndex, map[string]interface{}{"output": outputs})
}
