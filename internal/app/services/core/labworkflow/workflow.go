package labworkflow

import (
	"context"
	"errors"
	"fmt"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/core/concepts"
	"ipms-mediator/internal/app/services/core/identity"
	"ipms-mediator/internal/app/services/core/locations"
	"ipms-mediator/internal/app/services/core/saga"
	"ipms-mediator/internal/app/services/core/tasks"
	"ipms-mediator/internal/app/services/core/translation"
	"ipms-mediator/internal/app/services/shared/locker"
	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"
	"ipms-mediator/internal/pkg/hl7"
	"ipms-mediator/internal/pkg/utils"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// WorkflowError is raised when a step cannot continue because mandatory
// data is missing. The saga engine reports it as success=false and the
// trigger is dead-lettered, never retried.
type WorkflowError struct {
	Step string
	Err  error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// ErrOrderAdvanced is returned by persist when the stored order has moved
// past the status a step was about to write. The step is then a no-op.
var ErrOrderAdvanced = errors.New("stored order is further along")

// Dependencies are the collaborators every IPMS step draws on. Archive and
// Locker may be nil.
type Dependencies struct {
	Producer   contracts.MessageProducer
	DeadLetter contracts.DeadLetterSink
	Locker     contracts.LockerService
	SHR        contracts.SHRClient
	HL7        contracts.HL7Sender
	Archive    contracts.MessageArchive
	Concepts   *concepts.ConceptMapper
	Locations  *locations.LocationMapper
	Identity   *identity.IdentityReconciler
	Translator *translation.Translator
}

type IPMSWorkflow struct {
	deps     Dependencies
	ipms     config.IPMS
	retry    config.Retry
	identity config.Identity
	lock     config.Lock
	log      *zap.Logger
	// timer drives retry waits; nil uses real timers.
	timer backoff.Timer
}

func NewIPMSWorkflow(deps Dependencies, internalConfig *config.InternalConfig, logger *zap.Logger) *IPMSWorkflow {
	return &IPMSWorkflow{
		deps:     deps,
		ipms:     internalConfig.IPMS,
		retry:    internalConfig.Retry,
		identity: internalConfig.Identity,
		lock:     internalConfig.Lock,
		log:      logger,
	}
}

// NewIPMSStepTable registers every IPMS step under its topic.
func NewIPMSStepTable(w *IPMSWorkflow) saga.StepTable {
	return saga.StepTable{
		constvars.TopicSendADTToIPMS:     w.SendADTToIPMS,
		constvars.TopicSendORMToIPMS:     w.SendORMToIPMS,
		constvars.TopicSavePIMSPatient:   w.SavePIMSPatient,
		constvars.TopicSaveIPMSPatient:   w.SaveIPMSPatient,
		constvars.TopicHandleADTFromIPMS: w.HandleADTFromIPMS,
		constvars.TopicHandleORUFromIPMS: w.HandleORUFromIPMS,
	}
}

// HandleLabOrder admits a new order bundle. The bundle must hold exactly
// one Task in status requested; it is then queued for SEND_ADT_TO_IPMS.
func (w *IPMSWorkflow) HandleLabOrder(ctx context.Context, bundle *fhir_dto.FHIRBundle) saga.Result {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	if bundle == nil {
		return saga.Failed(nil, exceptions.ErrResourceNotInBundle(nil, constvars.ResourceTask))
	}
	_, task, err := tasks.FindTask(bundle)
	if err != nil {
		w.log.Error("IPMSWorkflow.HandleLabOrder invalid order bundle",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBundleIDKey, bundle.ID),
			zap.Error(err),
		)
		return saga.Failed(bundle, err)
	}
	if task.Status != constvars.FhirTaskStatusRequested {
		err := exceptions.ErrTaskStatusRegression(nil, task.Status, constvars.FhirTaskStatusRequested)
		w.log.Error("IPMSWorkflow.HandleLabOrder order is not in requested status",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTaskIDKey, task.ID),
			zap.String(constvars.LoggingTaskStatusKey, task.Status),
		)
		return saga.Failed(bundle, err)
	}

	envelope := messaging.NewBundleEnvelope(constvars.TopicSendADTToIPMS, bundle)
	if err := w.deps.Producer.SendWithRetryToDeadLetter(ctx, envelope, constvars.TopicSendADTToIPMS, w.retry.MaxAttempts, w.retry.InitialDelay); err != nil {
		w.log.Error("IPMSWorkflow.HandleLabOrder failed to queue order",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTaskIDKey, task.ID),
			zap.Error(err),
		)
		return saga.Failed(bundle, err)
	}

	w.log.Info("IPMSWorkflow.HandleLabOrder order queued",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingTaskIDKey, task.ID),
		zap.String(constvars.LoggingTopicKey, constvars.TopicSendADTToIPMS),
	)
	return saga.Succeeded(bundle)
}

// TopicForMessage routes an inbound IPMS message by its MSH-9 code.
func TopicForMessage(message *hl7.Message) (string, error) {
	switch message.MessageCode() {
	case "ADT":
		return constvars.TopicHandleADTFromIPMS, nil
	case "ORU":
		return constvars.TopicHandleORUFromIPMS, nil
	default:
		return "", exceptions.ErrHL7UnsupportedType(nil, message.Type)
	}
}

// AcceptInboundHL7 parses raw, picks its topic and queues it for the
// matching handle step. The parsed message is returned for acknowledgment.
func (w *IPMSWorkflow) AcceptInboundHL7(ctx context.Context, raw string) (*hl7.Message, string, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	raw = hl7.NormalizeSegments(raw)
	message, err := hl7.Parse(raw)
	if err != nil {
		return nil, "", exceptions.ErrHL7Parse(err)
	}
	topic, err := TopicForMessage(message)
	if err != nil {
		w.log.Warn("IPMSWorkflow.AcceptInboundHL7 unsupported message type",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingMessageTypeKey, message.Type),
			zap.String(constvars.LoggingControlIDKey, message.ControlID),
		)
		return message, "", err
	}

	envelope := messaging.NewMessageEnvelope(topic, raw)
	if err := w.deps.Producer.SendWithRetryToDeadLetter(ctx, envelope, topic, w.retry.MaxAttempts, w.retry.InitialDelay); err != nil {
		return message, topic, err
	}

	w.log.Info("IPMSWorkflow.AcceptInboundHL7 message queued",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingMessageTypeKey, message.Type),
		zap.String(constvars.LoggingControlIDKey, message.ControlID),
		zap.String(constvars.LoggingTopicKey, topic),
	)
	return message, topic, nil
}

// policy builds the shared retry budget for operation, dead-lettering the
// triggering envelope under its own topic once spent.
func (w *IPMSWorkflow) policy(operation string, envelope messaging.Envelope) retry.Policy {
	policy := retry.NewPolicy(w.retry, operation)
	policy.Timer = w.timer
	if w.deps.DeadLetter == nil {
		return policy
	}
	payload, err := envelope.Encode()
	if err != nil {
		return policy
	}
	return policy.WithDeadLetter(&retry.DeadLetter{
		Sink:    w.deps.DeadLetter,
		Topic:   envelope.Topic,
		Payload: payload,
	})
}

// persist saves bundle to the shared health record under the retry budget.
// It refuses with ErrOrderAdvanced when the stored Task already moved past
// the status bundle carries, so a stale copy never overwrites newer state.
func (w *IPMSWorkflow) persist(ctx context.Context, bundle *fhir_dto.FHIRBundle, envelope messaging.Envelope) error {
	requestID := utils.GetRequestID(ctx)

	_, task, err := tasks.FindTask(bundle)
	if err != nil {
		return err
	}
	stored, found, err := w.currentOrder(ctx, task.ID, envelope)
	if err != nil {
		return err
	}
	if found {
		if current := tasks.GetTaskStatus(stored); current != task.Status && !tasks.CanTransition(current, task.Status) {
			w.log.Warn("IPMSWorkflow.persist stored order is further along, not saving",
				zap.String(constvars.LoggingRequestIDKey, requestID),
				zap.String(constvars.LoggingTaskIDKey, task.ID),
				zap.String(constvars.LoggingTaskStatusFromKey, current),
				zap.String(constvars.LoggingTaskStatusToKey, task.Status),
			)
			return ErrOrderAdvanced
		}
	}

	return utils.LogOperation(w.log, "IPMSWorkflow.persist", requestID, func() error {
		_, err := retry.Do(ctx, w.log, w.policy("save bundle "+bundle.ID, envelope), func(ctx context.Context) (*fhir_dto.FHIRBundle, error) {
			return w.deps.SHR.SaveBundle(ctx, bundle)
		}, nil)
		return err
	})
}

// currentOrder reads the order as the shared health record holds it now.
// found is false when the Task has not been stored yet, which is the case
// for an order on its first SEND_ADT_TO_IPMS.
func (w *IPMSWorkflow) currentOrder(ctx context.Context, taskID string, envelope messaging.Envelope) (*fhir_dto.FHIRBundle, bool, error) {
	stored, err := retry.Do(ctx, w.log, w.policy("fetch task "+taskID, envelope), func(ctx context.Context) (*fhir_dto.FHIRBundle, error) {
		bundle, err := w.deps.SHR.GetTaskBundle(ctx, taskID)
		if exceptions.IsNotFound(err) {
			return nil, retry.Permanent(err)
		}
		return bundle, err
	}, nil)
	if err != nil {
		if exceptions.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return stored, true, nil
}

// withOrderLock runs fn while holding the per-order lock of taskID. Steps
// that only learn the Task id after reading an inbound message take it
// here; bundle envelopes are already locked by the saga engine.
func (w *IPMSWorkflow) withOrderLock(ctx context.Context, taskID string, fn func(ctx context.Context) error) error {
	if w.deps.Locker == nil {
		return fn(ctx)
	}
	key := fmt.Sprintf(constvars.RedisKeyOrderLockFormat, taskID)
	var stepErr error
	err := locker.WithLock(ctx, w.deps.Locker, key, w.lock.TTL, w.lock.Attempts, w.lock.RetryDelay, func(ctx context.Context) error {
		stepErr = fn(ctx)
		return nil
	})
	if err != nil {
		return errors.Join(saga.ErrOrderBusy, err)
	}
	return stepErr
}

func (w *IPMSWorkflow) toHL7(ctx context.Context, template string, bundle *fhir_dto.FHIRBundle, envelope messaging.Envelope) (string, error) {
	return retry.Do(ctx, w.log, w.policy("translate "+template, envelope), func(ctx context.Context) (string, error) {
		message, terr := w.deps.Translator.ToHL7(ctx, template, bundle)
		if terr != nil {
			return "", terr
		}
		return message, nil
	}, nil)
}

func (w *IPMSWorkflow) toFHIR(ctx context.Context, message string, envelope messaging.Envelope) (*fhir_dto.FHIRBundle, error) {
	return retry.Do(ctx, w.log, w.policy("translate inbound hl7", envelope), func(ctx context.Context) (*fhir_dto.FHIRBundle, error) {
		bundle, terr := w.deps.Translator.ToFHIR(ctx, message)
		if terr != nil {
			return nil, terr
		}
		return bundle, nil
	}, nil)
}
