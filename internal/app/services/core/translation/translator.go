package translation

import (
	"context"
	"fmt"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/fhir_dto"
	"ipms-mediator/internal/pkg/hl7"

	"go.uber.org/zap"
)

const (
	DirectionFHIRToHL7 = "fhir-to-hl7"
	DirectionHL7ToFHIR = "hl7-to-fhir"
)

// TranslationError reports a failed conversion. It is returned in place of a
// result, never alongside one.
type TranslationError struct {
	Direction string
	Template  string
	Err       error
}

func (e *TranslationError) Error() string {
	if e.Template != "" {
		return fmt.Sprintf("%s translation with template %s failed: %v", e.Direction, e.Template, e.Err)
	}
	return fmt.Sprintf("%s translation failed: %v", e.Direction, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

type Translator struct {
	client contracts.TranslatorClient
	log    *zap.Logger
}

func NewTranslator(client contracts.TranslatorClient, logger *zap.Logger) *Translator {
	return &Translator{client: client, log: logger}
}

// ToHL7 renders bundle with template. The output must parse as HL7v2.
func (t *Translator) ToHL7(ctx context.Context, template string, bundle *fhir_dto.FHIRBundle) (string, *TranslationError) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	message, err := t.client.FHIRToHL7(ctx, template, bundle)
	if err == nil {
		_, err = hl7.Parse(message)
	}
	if err != nil {
		t.log.Error("Translator.ToHL7 translation failed",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingTranslatorTemplateKey, template),
			zap.String(constvars.LoggingBundleIDKey, bundle.ID),
			zap.Error(err),
		)
		return "", &TranslationError{Direction: DirectionFHIRToHL7, Template: template, Err: err}
	}
	return hl7.NormalizeSegments(message), nil
}

// ToFHIR converts an inbound HL7v2 message into a bundle.
func (t *Translator) ToFHIR(ctx context.Context, message string) (*fhir_dto.FHIRBundle, *TranslationError) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	bundle, err := t.client.HL7ToFHIR(ctx, message)
	if err == nil && len(bundle.Entry) == 0 {
		err = fmt.Errorf("translator returned an empty bundle")
	}
	if err != nil {
		t.log.Error("Translator.ToFHIR translation failed",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		return nil, &TranslationError{Direction: DirectionHL7ToFHIR, Err: err}
	}
	return bundle, nil
}
