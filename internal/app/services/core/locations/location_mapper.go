package locations

import (
	"context"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/core/tasks"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocationMapper points an order at the facility that will receive it in the
// remote system.
type LocationMapper struct {
	directory contracts.FacilityDirectory
	cfg       config.Facility
	namespace uuid.UUID
	log       *zap.Logger
}

func NewLocationMapper(directory contracts.FacilityDirectory, cfg config.Facility, logger *zap.Logger) *LocationMapper {
	namespace, err := uuid.Parse(cfg.NamespaceUUID)
	if err != nil {
		namespace = uuid.NameSpaceURL
	}
	return &LocationMapper{directory: directory, cfg: cfg, namespace: namespace, log: logger}
}

// MapLocations resolves the ordering facility through the mapping table and
// rewires the Task owner and location to the receiving facility, adding the
// receiving Organization and Location when the bundle lacks them. The
// requester keeps naming the ordering facility and is only filled in when
// absent, so a bundle that was already mapped resolves to the same row again.
// An unmapped facility leaves the bundle as it was.
func (m *LocationMapper) MapLocations(ctx context.Context, bundle *fhir_dto.FHIRBundle) (*fhir_dto.FHIRBundle, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	mapped := bundle.Clone()

	taskIndex, task, err := tasks.FindTask(mapped)
	if err != nil {
		return nil, err
	}

	ordering, found := m.orderingFacility(mapped, task)
	if !found {
		m.log.Warn("LocationMapper.MapLocations order has no ordering facility",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTaskIDKey, task.ID),
		)
		return mapped, nil
	}

	code := m.facilityCode(ordering)
	row, ok := m.directory.Lookup(code, ordering.Name)
	if !ok {
		m.log.Warn("LocationMapper.MapLocations no facility mapping found",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTaskIDKey, task.ID),
			zap.String(constvars.LoggingFacilityCodeKey, code),
			zap.String(constvars.LoggingFacilityNameKey, ordering.Name),
		)
		return mapped, nil
	}

	organizationID := m.receivingOrganizationID(mapped, row)
	locationID := m.StableID(constvars.ResourceLocation, row.ReceivingName)

	if _, exists := mapped.IndexOf(constvars.ResourceOrganization, organizationID); !exists {
		organization := fhir_dto.Organization{
			ResourceType: constvars.ResourceOrganization,
			ID:           organizationID,
			Active:       true,
			Name:         row.ReceivingName,
			Identifier:   []fhir_dto.Identifier{{System: m.cfg.CodeSystem, Value: row.ReceivingCode}},
		}
		if err := mapped.AppendResource(constvars.ResourceOrganization, organizationID, organization); err != nil {
			return nil, exceptions.ErrCannotMarshalJSON(err)
		}
	}
	if _, exists := mapped.IndexOf(constvars.ResourceLocation, locationID); !exists {
		location := fhir_dto.Location{
			ResourceType:         constvars.ResourceLocation,
			ID:                   locationID,
			Status:               "active",
			Name:                 row.ReceivingName,
			Identifier:           []fhir_dto.Identifier{{System: m.cfg.CodeSystem, Value: row.ReceivingCode}},
			ManagingOrganization: &fhir_dto.Reference{Reference: fhir_dto.ReferenceTo(constvars.ResourceOrganization, organizationID)},
		}
		if err := mapped.AppendResource(constvars.ResourceLocation, locationID, location); err != nil {
			return nil, exceptions.ErrCannotMarshalJSON(err)
		}
	}

	patch := map[string]interface{}{
		"owner": fhir_dto.Reference{
			Reference: fhir_dto.ReferenceTo(constvars.ResourceOrganization, organizationID),
			Display:   row.ReceivingName,
		},
		"location": fhir_dto.Reference{
			Reference: fhir_dto.ReferenceTo(constvars.ResourceLocation, locationID),
			Display:   row.ReceivingName,
		},
	}
	if task.Requester == nil || task.Requester.Reference == "" {
		patch["requester"] = fhir_dto.Reference{
			Reference: fhir_dto.ReferenceTo(constvars.ResourceOrganization, ordering.ID),
			Display:   ordering.Name,
		}
	}
	if err := mapped.PatchEntry(taskIndex, patch); err != nil {
		return nil, exceptions.ErrCannotMarshalJSON(err)
	}

	m.log.Info("LocationMapper.MapLocations mapped ordering facility",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingTaskIDKey, task.ID),
		zap.String(constvars.LoggingFacilityCodeKey, row.ReceivingCode),
		zap.String(constvars.LoggingFacilityNameKey, row.ReceivingName),
	)
	return mapped, nil
}

// StableID derives an id from the facility name so every mediator instance
// synthesizes the same resource for the same facility.
func (m *LocationMapper) StableID(resourceType, name string) string {
	return uuid.NewSHA1(m.namespace, []byte(resourceType+"/"+name)).String()
}

// orderingFacility is the Organization the Task requester points at, or the
// bundle's only Organization when the requester is not an Organization.
func (m *LocationMapper) orderingFacility(bundle *fhir_dto.FHIRBundle, task fhir_dto.Task) (fhir_dto.Organization, bool) {
	var organization fhir_dto.Organization
	if task.Requester != nil {
		resourceType, id := fhir_dto.SplitReference(task.Requester.Reference)
		if resourceType == constvars.ResourceOrganization {
			if index, ok := bundle.IndexOf(resourceType, id); ok && bundle.DecodeEntry(index, &organization) == nil {
				return organization, true
			}
		}
	}

	indexes := bundle.IndexesOf(constvars.ResourceOrganization)
	if len(indexes) != 1 {
		return organization, false
	}
	if err := bundle.DecodeEntry(indexes[0], &organization); err != nil {
		return organization, false
	}
	return organization, true
}

func (m *LocationMapper) facilityCode(organization fhir_dto.Organization) string {
	for _, identifier := range organization.Identifier {
		if identifier.System == m.cfg.CodeSystem {
			return identifier.Value
		}
	}
	if len(organization.Identifier) > 0 {
		return organization.Identifier[0].Value
	}
	return ""
}

// receivingOrganizationID reuses an Organization already carrying the
// receiving facility code and synthesizes a stable id otherwise.
func (m *LocationMapper) receivingOrganizationID(bundle *fhir_dto.FHIRBundle, row workflow.FacilityMapping) string {
	for _, index := range bundle.IndexesOf(constvars.ResourceOrganization) {
		var organization fhir_dto.Organization
		if bundle.DecodeEntry(index, &organization) != nil {
			continue
		}
		for _, identifier := range organization.Identifier {
			if identifier.System == m.cfg.CodeSystem && identifier.Value == row.ReceivingCode && organization.ID != "" {
				return organization.ID
			}
		}
	}
	return m.StableID(constvars.ResourceOrganization, row.ReceivingName)
}
