package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ipms-mediator/internal/app/services/core/saga"
	"ipms-mediator/internal/app/services/core/tasks"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/requests"
	"ipms-mediator/internal/pkg/dto/responses"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"
	"ipms-mediator/internal/pkg/utils"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type LabOrderHandler interface {
	HandleLabOrder(ctx context.Context, bundle *fhir_dto.FHIRBundle) saga.Result
}

type LabOrderController struct {
	Log      *zap.Logger
	Workflow LabOrderHandler
	Timeout  time.Duration
}

func NewLabOrderController(logger *zap.Logger, workflow LabOrderHandler, timeout time.Duration) *LabOrderController {
	return &LabOrderController{
		Log:      logger,
		Workflow: workflow,
		Timeout:  timeout,
	}
}

func (ctrl *LabOrderController) CreateLabOrder(w http.ResponseWriter, r *http.Request) {
	requestID := utils.GetRequestID(r.Context())
	ctrl.Log.Info("LabOrderController.CreateLabOrder called",
		zap.String(constvars.LoggingRequestIDKey, requestID),
	)

	request := new(requests.LabOrder)
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		ctrl.Log.Error("LabOrderController.CreateLabOrder error decoding JSON",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		utils.BuildErrorResponse(ctrl.Log, w, exceptions.ErrCannotParseJSON(err))
		return
	}

	if err := utils.ValidateStruct(request); err != nil {
		ctrl.Log.Error("LabOrderController.CreateLabOrder validation error",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		utils.BuildErrorResponse(ctrl.Log, w, exceptions.ErrInputValidation(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ctrl.Timeout)
	defer cancel()

	bundle := request.ToBundle()
	result := ctrl.Workflow.HandleLabOrder(ctx, bundle)
	if !result.Success {
		ctrl.Log.Error("LabOrderController.CreateLabOrder error from workflow",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(result.Err),
		)
		if errors.Is(result.Err, context.DeadlineExceeded) {
			utils.BuildErrorResponse(ctrl.Log, w, exceptions.ErrServerDeadlineExceeded(result.Err))
			return
		}
		utils.BuildErrorResponse(ctrl.Log, w, result.Err)
		return
	}

	_, task, _ := tasks.FindTask(bundle)
	ctrl.Log.Info("LabOrderController.CreateLabOrder succeeded",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingTaskIDKey, task.ID),
	)
	utils.BuildSuccessResponse(w, constvars.StatusAccepted, constvars.LabOrderAcceptedMessage, responses.LabOrderAccepted{
		TaskID: task.ID,
		Topic:  constvars.TopicSendADTToIPMS,
	})
}
