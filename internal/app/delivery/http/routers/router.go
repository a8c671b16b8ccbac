package routers

import (
	"fmt"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/delivery/http/controllers"
	"ipms-mediator/internal/app/delivery/http/middlewares"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes(
	router *chi.Mux,
	internalConfig *config.InternalConfig,
	middlewares *middlewares.Middlewares,
	labOrderController *controllers.LabOrderController,
	hl7Controller *controllers.HL7Controller,
	healthController *controllers.HealthController,
) {
	router.Use(middlewares.RequestIDMiddleware)
	router.Use(middlewares.Logging)
	router.Use(middlewares.ErrorHandler)

	router.Get("/health", healthController.Check)

	endpointPrefix := fmt.Sprintf("/%s", internalConfig.App.EndpointPrefix)
	versionPrefix := fmt.Sprintf("/%s", internalConfig.App.Version)

	router.Route(endpointPrefix, func(r chi.Router) {
		r.Use(middlewares.RateLimiter())
		r.Use(middlewares.BodyLimit)

		r.Route(versionPrefix, func(r chi.Router) {
			r.Route("/lab-orders", func(r chi.Router) {
				attachLabOrderRoutes(r, labOrderController)
			})

			r.Route("/hl7", func(r chi.Router) {
				attachHL7Routes(r, hl7Controller)
			})
		})
	})
}
