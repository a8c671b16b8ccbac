package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/requests"
	"ipms-mediator/internal/pkg/dto/responses"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/hl7"
	"ipms-mediator/internal/pkg/utils"

	"go.uber.org/zap"
)

type InboundHL7Handler interface {
	AcceptInboundHL7(ctx context.Context, raw string) (*hl7.Message, string, error)
}

// HL7Controller takes IPMS messages over HTTP for deployments where MLLP
// is not reachable. Routing is the same as the MLLP listener.
type HL7Controller struct {
	Log      *zap.Logger
	Workflow InboundHL7Handler
	Timeout  time.Duration
}

func NewHL7Controller(logger *zap.Logger, workflow InboundHL7Handler, timeout time.Duration) *HL7Controller {
	return &HL7Controller{
		Log:      logger,
		Workflow: workflow,
		Timeout:  timeout,
	}
}

func (ctrl *HL7Controller) ReceiveHL7(w http.ResponseWriter, r *http.Request) {
	requestID := utils.GetRequestID(r.Context())
	ctrl.Log.Info("HL7Controller.ReceiveHL7 called",
		zap.String(constvars.LoggingRequestIDKey, requestID),
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctrl.Log.Error("HL7Controller.ReceiveHL7 error reading body",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		utils.BuildErrorResponse(ctrl.Log, w, exceptions.ErrReadBody(err))
		return
	}

	request := requests.InboundHL7{Message: string(body)}
	if err := utils.ValidateStruct(request); err != nil {
		ctrl.Log.Error("HL7Controller.ReceiveHL7 validation error",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		utils.BuildErrorResponse(ctrl.Log, w, exceptions.ErrInputValidation(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ctrl.Timeout)
	defer cancel()

	message, topic, err := ctrl.Workflow.AcceptInboundHL7(ctx, request.Message)
	if err != nil {
		ctrl.Log.Error("HL7Controller.ReceiveHL7 error from workflow",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			utils.BuildErrorResponse(ctrl.Log, w, exceptions.ErrServerDeadlineExceeded(err))
			return
		}
		utils.BuildErrorResponse(ctrl.Log, w, err)
		return
	}

	ctrl.Log.Info("HL7Controller.ReceiveHL7 succeeded",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingControlIDKey, message.ControlID),
		zap.String(constvars.LoggingTopicKey, topic),
	)
	utils.BuildSuccessResponse(w, constvars.StatusAccepted, constvars.HL7MessageQueuedMessage, responses.HL7Queued{
		ControlID:   message.ControlID,
		MessageType: message.Type,
		Topic:       topic,
	})
}
