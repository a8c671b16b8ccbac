package terminology

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/external/httpclient"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"

	"go.uber.org/zap"
)

// parameters is the subset of a FHIR Parameters resource returned by
// ConceptMap/$translate.
type parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []parameter `json:"parameter"`
}

type parameter struct {
	Name         string           `json:"name"`
	ValueBoolean *bool            `json:"valueBoolean,omitempty"`
	ValueCode    string           `json:"valueCode,omitempty"`
	ValueString  string           `json:"valueString,omitempty"`
	ValueCoding  *fhir_dto.Coding `json:"valueCoding,omitempty"`
	Part         []parameter      `json:"part,omitempty"`
}

type TerminologyClient struct {
	client *httpclient.Client
	log    *zap.Logger
}

func NewTerminologyClient(client *httpclient.Client, logger *zap.Logger) contracts.TerminologyClient {
	return &TerminologyClient{client: client, log: logger}
}

// GetMappings returns every concept the terminology service maps system|code
// to. An unknown code yields no mappings and no error.
func (c *TerminologyClient) GetMappings(ctx context.Context, system, code string) ([]workflow.ConceptMapping, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	query := url.Values{}
	query.Set("system", system)
	query.Set("code", code)

	var result parameters
	status, err := c.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "ConceptMap/$translate",
		Query:  query,
	}, &result)
	if status == constvars.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		c.log.Error("TerminologyClient.GetMappings error translating concept",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingCodingSystemKey, system),
			zap.String(constvars.LoggingCodingCodeKey, code),
			zap.Error(err),
		)
		return nil, exceptions.ErrTerminologyLookup(err, system, code)
	}
	return toMappings(result), nil
}

func toMappings(result parameters) []workflow.ConceptMapping {
	var mappings []workflow.ConceptMapping
	for _, param := range result.Parameter {
		if param.Name != "match" {
			continue
		}
		var (
			mapType string
			concept *fhir_dto.Coding
		)
		for _, part := range param.Part {
			switch part.Name {
			case "equivalence", "relationship":
				mapType = toMapType(part.ValueCode)
			case "concept":
				concept = part.ValueCoding
			}
		}
		if concept == nil || concept.Code == "" {
			continue
		}
		mappings = append(mappings, workflow.ConceptMapping{
			MapType:   mapType,
			ToSystem:  concept.System,
			ToCode:    concept.Code,
			ToDisplay: concept.Display,
		})
	}
	return mappings
}

// toMapType names a FHIR equivalence the way the concept maps are authored.
func toMapType(equivalence string) string {
	switch strings.ToLower(equivalence) {
	case "equivalent", "equal", "equivalent-to":
		return constvars.FhirConceptMapTypeSameAs
	case "wider", "subsumes", "source-is-narrower-than-target":
		return constvars.FhirConceptMapTypeBroaderThan
	case "narrower", "specializes", "source-is-broader-than-target":
		return constvars.FhirConceptMapTypeNarrowerThan
	default:
		return strings.ToUpper(equivalence)
	}
}
