package shr

import (
	"context"
	"net/http"
	"net/url"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/external/httpclient"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"

	"go.uber.org/zap"
)

// SHRFhirClient talks to the shared health record, a FHIR server that stores
// every lab order bundle.
type SHRFhirClient struct {
	client *httpclient.Client
	log    *zap.Logger
}

func NewSHRFhirClient(client *httpclient.Client, logger *zap.Logger) contracts.SHRClient {
	return &SHRFhirClient{client: client, log: logger}
}

// SaveBundle posts bundle as a transaction to the FHIR base endpoint and
// returns the transaction-response bundle.
func (c *SHRFhirClient) SaveBundle(ctx context.Context, bundle *fhir_dto.FHIRBundle) (*fhir_dto.FHIRBundle, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	var result fhir_dto.FHIRBundle
	_, err := c.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "",
		Body:   bundle.ToTransaction(),
	}, &result)
	if err != nil {
		c.log.Error("SHRFhirClient.SaveBundle error posting transaction bundle",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBundleIDKey, bundle.ID),
			zap.Error(err),
		)
		return nil, exceptions.ErrSaveFHIRBundle(err)
	}

	c.log.Info("SHRFhirClient.SaveBundle succeeded",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.Int(constvars.LoggingResponseLengthKey, len(result.Entry)),
	)
	return &result, nil
}

func (c *SHRFhirClient) SearchBundle(ctx context.Context, resourceType string, query url.Values) (*fhir_dto.FHIRBundle, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	var result fhir_dto.FHIRBundle
	_, err := c.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   resourceType,
		Query:  query,
	}, &result)
	if err != nil {
		c.log.Error("SHRFhirClient.SearchBundle error searching resources",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingEndpointKey, resourceType+"?"+query.Encode()),
			zap.Error(err),
		)
		return nil, exceptions.ErrSearchFHIRResource(err, resourceType)
	}
	return &result, nil
}

// GetTaskBundle returns the Task together with the resources it points at, so
// a step can work on the whole order.
func (c *SHRFhirClient) GetTaskBundle(ctx context.Context, taskID string) (*fhir_dto.FHIRBundle, error) {
	query := url.Values{}
	query.Set(constvars.FhirSearchParamID, taskID)
	query.Add(constvars.FhirSearchParamInclude, "Task:patient")
	query.Add(constvars.FhirSearchParamInclude, "Task:based-on")
	query.Add(constvars.FhirSearchParamInclude, "Task:owner")
	query.Add(constvars.FhirSearchParamInclude, "Task:requester")

	bundle, err := c.SearchBundle(ctx, constvars.ResourceTask, query)
	if err != nil {
		return nil, err
	}
	if len(bundle.IndexesOf(constvars.ResourceTask)) == 0 {
		return nil, exceptions.ErrNoDataFHIRResource(nil, constvars.ResourceTask)
	}
	return bundle, nil
}
