package identityregistry

import (
	"context"
	"net/http"
	"net/url"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/external/httpclient"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type IdentityRegistryClient struct {
	client *httpclient.Client
	log    *zap.Logger
}

func NewIdentityRegistryClient(client *httpclient.Client, logger *zap.Logger) contracts.IdentityRegistryClient {
	return &IdentityRegistryClient{client: client, log: logger}
}

// UpsertPatient conditionally updates the registry's Patient matching key,
// creating it when no match exists.
func (c *IdentityRegistryClient) UpsertPatient(ctx context.Context, patient json.RawMessage, key workflow.IdentityKey) error {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	query := url.Values{}
	query.Set(constvars.FhirSearchParamIdentifier, key.Token())

	status, err := c.client.Do(ctx, httpclient.Request{
		Method: http.MethodPut,
		Path:   constvars.ResourcePatient,
		Query:  query,
		Body:   patient,
	}, nil)
	if err != nil {
		c.log.Error("IdentityRegistryClient.UpsertPatient error upserting patient",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingPatientIdentifierKey, key.Token()),
			zap.Int(constvars.LoggingStatusCodeKey, status),
			zap.Error(err),
		)
		return exceptions.ErrIdentityUpsert(err)
	}

	c.log.Info("IdentityRegistryClient.UpsertPatient succeeded",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingPatientIdentifierKey, key.Token()),
		zap.Int(constvars.LoggingStatusCodeKey, status),
	)
	return nil
}
