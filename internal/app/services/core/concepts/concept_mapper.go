package concepts

import (
	"context"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"

	"go.uber.org/zap"
)

// ConceptMapper adds the codings the receiving system understands to every
// coded order line or result. A missing mapping is logged and the entry keeps
// whatever codings could be resolved.
type ConceptMapper struct {
	client contracts.TerminologyClient
	cfg    config.Terminology
	log    *zap.Logger
}

func NewConceptMapper(client contracts.TerminologyClient, cfg config.Terminology, logger *zap.Logger) *ConceptMapper {
	return &ConceptMapper{client: client, cfg: cfg, log: logger}
}

// MapOrderConcepts enriches the code of every ServiceRequest.
func (m *ConceptMapper) MapOrderConcepts(ctx context.Context, bundle *fhir_dto.FHIRBundle) (*fhir_dto.FHIRBundle, error) {
	return m.mapEntries(ctx, bundle, constvars.ResourceServiceRequest)
}

// MapResultConcepts enriches the code of every DiagnosticReport and
// Observation so results carry the same codings as the order.
func (m *ConceptMapper) MapResultConcepts(ctx context.Context, bundle *fhir_dto.FHIRBundle) (*fhir_dto.FHIRBundle, error) {
	return m.mapEntries(ctx, bundle, constvars.ResourceDiagnosticReport, constvars.ResourceObservation)
}

type codedResource struct {
	ID   string                    `json:"id"`
	Code *fhir_dto.CodeableConcept `json:"code"`
}

func (m *ConceptMapper) mapEntries(ctx context.Context, bundle *fhir_dto.FHIRBundle, resourceTypes ...string) (*fhir_dto.FHIRBundle, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	mapped := bundle.Clone()

	for _, resourceType := range resourceTypes {
		for _, index := range mapped.IndexesOf(resourceType) {
			var resource codedResource
			if err := mapped.DecodeEntry(index, &resource); err != nil {
				m.log.Warn("ConceptMapper.mapEntries skipping unreadable entry",
					zap.String(constvars.LoggingRequestIDKey, requestID),
					zap.String(constvars.LoggingOperationKey, resourceType),
					zap.Error(err),
				)
				continue
			}
			if resource.Code == nil || len(resource.Code.Coding) == 0 {
				continue
			}

			if added := m.enrich(ctx, requestID, resource.Code); added == 0 {
				continue
			}
			if err := mapped.PatchEntry(index, map[string]interface{}{"code": resource.Code}); err != nil {
				return nil, exceptions.ErrCannotMarshalJSON(err)
			}
		}
	}
	return mapped, nil
}

// enrich appends, in order, a hierarchy coding, a secondary coding and a
// LOINC coding. A system the concept already carries is never looked up or
// appended again, which makes the mapping idempotent.
func (m *ConceptMapper) enrich(ctx context.Context, requestID string, concept *fhir_dto.CodeableConcept) int {
	added := 0
	lookups := make(map[string][]workflow.ConceptMapping)
	lookup := func(source fhir_dto.Coding) []workflow.ConceptMapping {
		key := source.System + "|" + source.Code
		if mappings, ok := lookups[key]; ok {
			return mappings
		}
		mappings, err := m.client.GetMappings(ctx, source.System, source.Code)
		if err != nil {
			m.log.Warn("ConceptMapper.enrich terminology lookup failed",
				zap.String(constvars.LoggingRequestIDKey, requestID),
				zap.String(constvars.LoggingCodingSystemKey, source.System),
				zap.String(constvars.LoggingCodingCodeKey, source.Code),
				zap.Error(err),
			)
		}
		lookups[key] = mappings
		return mappings
	}
	appendCoding := func(mapping workflow.ConceptMapping) {
		concept.Coding = append(concept.Coding, fhir_dto.Coding{
			System:  mapping.ToSystem,
			Code:    mapping.ToCode,
			Display: mapping.ToDisplay,
		})
		added++
	}

	source := concept.Coding[0]

	if m.cfg.HierarchySystem != "" && !concept.HasSystem(m.cfg.HierarchySystem) {
		mapping, ok := pick(lookup(source), m.cfg.HierarchySystem,
			constvars.FhirConceptMapTypeBroaderThan, constvars.FhirConceptMapTypeSameAs)
		if ok {
			appendCoding(mapping)
		} else {
			m.logMissing(requestID, source, m.cfg.HierarchySystem)
		}
	}

	anchor := source
	if coding, ok := codingFor(concept, m.cfg.HierarchySystem); ok {
		anchor = coding
	}

	for _, target := range []string{m.cfg.SecondarySystem, m.cfg.LoincSystem} {
		if target == "" || concept.HasSystem(target) {
			continue
		}
		mapping, ok := pick(lookup(anchor), target, constvars.FhirConceptMapTypeSameAs, "")
		if !ok && anchor != source {
			mapping, ok = pick(lookup(source), target, constvars.FhirConceptMapTypeSameAs, "")
		}
		if !ok {
			m.logMissing(requestID, anchor, target)
			continue
		}
		appendCoding(mapping)
	}
	return added
}

func (m *ConceptMapper) logMissing(requestID string, source fhir_dto.Coding, target string) {
	m.log.Info("ConceptMapper.enrich no mapping found",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingCodingSystemKey, source.System),
		zap.String(constvars.LoggingCodingCodeKey, source.Code),
		zap.String(constvars.LoggingOperationKey, target),
	)
}

// pick returns the first mapping into system with the preferred map type,
// then the first with the fallback type. An empty fallback accepts any type.
func pick(mappings []workflow.ConceptMapping, system, preferred, fallback string) (workflow.ConceptMapping, bool) {
	for _, mapping := range mappings {
		if mapping.ToSystem == system && mapping.MapType == preferred {
			return mapping, true
		}
	}
	for _, mapping := range mappings {
		if mapping.ToSystem == system && (fallback == "" || mapping.MapType == fallback) {
			return mapping, true
		}
	}
	return workflow.ConceptMapping{}, false
}

func codingFor(concept *fhir_dto.CodeableConcept, system string) (fhir_dto.Coding, bool) {
	if system == "" {
		return fhir_dto.Coding{}, false
	}
	for _, coding := range concept.Coding {
		if coding.System == system {
			return coding, true
		}
	}
	return fhir_dto.Coding{}, false
}
