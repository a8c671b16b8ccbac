package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/responses"
	"ipms-mediator/internal/pkg/utils"

	"go.uber.org/zap"
)

const (
	healthStatusUp   = "up"
	healthStatusDown = "down"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type HealthController struct {
	Log    *zap.Logger
	Checks map[string]HealthCheck
}

func NewHealthController(logger *zap.Logger, checks map[string]HealthCheck) *HealthController {
	return &HealthController{Log: logger, Checks: checks}
}

func (ctrl *HealthController) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(ctrl.Checks))
	for name := range ctrl.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	health := responses.Health{Status: healthStatusUp, Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := ctrl.Checks[name](ctx); err != nil {
			ctrl.Log.Warn("HealthController.Check dependency unhealthy",
				zap.String(constvars.LoggingRequestIDKey, utils.GetRequestID(r.Context())),
				zap.String(constvars.LoggingOperationKey, name),
				zap.Error(err),
			)
			health.Checks[name] = healthStatusDown
			health.Status = healthStatusDown
			continue
		}
		health.Checks[name] = healthStatusUp
	}

	if health.Status != healthStatusUp {
		utils.BuildResponse(w, constvars.StatusServiceUnavailable, false, constvars.UnhealthyMessage, health)
		return
	}
	utils.BuildSuccessResponse(w, constvars.StatusOK, constvars.HealthyMessage, health)
}
