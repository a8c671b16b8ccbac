package fhir_dto

type Organization struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Active       bool              `json:"active,omitempty"`
	Identifier   []Identifier      `json:"identifier,omitempty"`
	Type         []CodeableConcept `json:"type,omitempty"`
	Name         string            `json:"name,omitempty"`
	Alias        []string          `json:"alias,omitempty"`
	PartOf       *Reference        `json:"partOf,omitempty"`
}

type Location struct {
	ResourceType         string       `json:"resourceType"`
	ID                   string       `json:"id,omitempty"`
	Identifier           []Identifier `json:"identifier,omitempty"`
	Status               string       `json:"status,omitempty"`
	Name                 string       `json:"name,omitempty"`
	ManagingOrganization *Reference   `json:"managingOrganization,omitempty"`
}
