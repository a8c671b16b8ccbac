package translator

import (
	"context"
	"fmt"
	"net/http"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/services/external/httpclient"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"

	"go.uber.org/zap"
)

// TranslatorClient converts between FHIR bundles and HL7v2 messages through
// the template based translator service.
type TranslatorClient struct {
	client *httpclient.Client
	log    *zap.Logger
}

func NewTranslatorClient(client *httpclient.Client, logger *zap.Logger) contracts.TranslatorClient {
	return &TranslatorClient{client: client, log: logger}
}

func (c *TranslatorClient) FHIRToHL7(ctx context.Context, template string, bundle *fhir_dto.FHIRBundle) (string, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	var message string
	_, err := c.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "convert/fhir-to-hl7/" + template,
		Body:   bundle,
		Accept: constvars.MIMETextPlain,
	}, &message)
	if err != nil {
		c.log.Error("TranslatorClient.FHIRToHL7 error translating bundle",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTranslatorTemplateKey, template),
			zap.Error(err),
		)
		return "", exceptions.ErrTranslateFHIRToHL7(err, template)
	}
	return message, nil
}

func (c *TranslatorClient) HL7ToFHIR(ctx context.Context, message string) (*fhir_dto.FHIRBundle, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	var bundle fhir_dto.FHIRBundle
	_, err := c.client.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		Path:        "convert/hl7-to-fhir",
		Body:        message,
		ContentType: constvars.MIMETextPlain,
	}, &bundle)
	if err != nil {
		c.log.Error("TranslatorClient.HL7ToFHIR error translating message",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		return nil, exceptions.ErrTranslateHL7ToFHIR(err)
	}
	if bundle.ResourceType != constvars.ResourceBundle {
		return nil, exceptions.ErrTranslateHL7ToFHIR(fmt.Errorf("translator returned %q instead of a Bundle", bundle.ResourceType))
	}
	return &bundle, nil
}
