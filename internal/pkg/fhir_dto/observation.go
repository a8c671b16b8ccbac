package fhir_dto

type Observation struct {
	ResourceType      string           `json:"resourceType"`
	ID                string           `json:"id,omitempty"`
	Identifier        []Identifier     `json:"identifier,omitempty"`
	BasedOn           []Reference      `json:"basedOn,omitempty"`
	Status            string           `json:"status,omitempty"`
	Code              *CodeableConcept `json:"code,omitempty"`
	Subject           *Reference       `json:"subject,omitempty"`
	EffectiveDateTime string           `json:"effectiveDateTime,omitempty"`
	Issued            string           `json:"issued,omitempty"`
}

type DiagnosticReport struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Identifier   []Identifier     `json:"identifier,omitempty"`
	BasedOn      []Reference      `json:"basedOn,omitempty"`
	Status       string           `json:"status,omitempty"`
	Code         *CodeableConcept `json:"code,omitempty"`
	Subject      *Reference       `json:"subject,omitempty"`
	Issued       string           `json:"issued,omitempty"`
	Result       []Reference      `json:"result,omitempty"`
}
