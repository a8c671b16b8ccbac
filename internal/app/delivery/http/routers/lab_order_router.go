package routers

import (
	"ipms-mediator/internal/app/delivery/http/controllers"

	"github.com/go-chi/chi/v5"
)

func attachLabOrderRoutes(router chi.Router, labOrderController *controllers.LabOrderController) {
	router.Post("/", labOrderController.CreateLabOrder)
}
