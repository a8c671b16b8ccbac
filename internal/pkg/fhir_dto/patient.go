package fhir_dto

type Patient struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Active       bool           `json:"active,omitempty"`
	Identifier   []Identifier   `json:"identifier,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
	Gender       string         `json:"gender,omitempty"`
	BirthDate    string         `json:"birthDate,omitempty"`
	Address      []Address      `json:"address,omitempty"`
	Extension    []Extension    `json:"extension,omitempty"`
}

// IdentifierValue returns the first identifier value issued under system.
func (p Patient) IdentifierValue(system string) (string, bool) {
	for _, identifier := range p.Identifier {
		if identifier.System == system && identifier.Value != "" {
			return identifier.Value, true
		}
	}
	return "", false
}
