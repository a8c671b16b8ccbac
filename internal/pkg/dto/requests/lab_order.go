package requests

import "ipms-mediator/internal/pkg/fhir_dto"

// LabOrder is the order bundle accepted on the intake endpoint.
type LabOrder struct {
	ResourceType string           `json:"resourceType" validate:"required,eq=Bundle"`
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Entry        []fhir_dto.Entry `json:"entry" validate:"required,min=1"`
}

func (r *LabOrder) ToBundle() *fhir_dto.FHIRBundle {
	return &fhir_dto.FHIRBundle{
		ResourceType: r.ResourceType,
		ID:           r.ID,
		Type:         r.Type,
		Entry:        r.Entry,
	}
}

type InboundHL7 struct {
	Message string `validate:"required,hl7"`
}
