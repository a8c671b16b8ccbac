package routers

import (
	"ipms-mediator/internal/app/delivery/http/controllers"

	"github.com/go-chi/chi/v5"
)

func attachHL7Routes(router chi.Router, hl7Controller *controllers.HL7Controller) {
	router.Post("/", hl7Controller.ReceiveHL7)
}
