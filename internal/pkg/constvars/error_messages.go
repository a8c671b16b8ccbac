package constvars

// Validation messages mapper
var CustomValidationErrorMessages = map[string]string{
	"required": "is required",
	"min":      "must be at least %s",
	"max":      "maximum at %s",
	"oneof":    "must be one of [%s]",
	"gt":       "must be greater than %s",
	"gte":      "must be greater than or equal to %s",
	"url":      "must be a valid URL",
	"hostname": "must be a valid hostname",
	"eq":       "must be equal to %s",
	"hl7":      "must be an HL7v2 message starting with MSH",
}

// Tags that require parameter substitution
var TagsWithParams = map[string]bool{
	"min":   true,
	"max":   true,
	"oneof": true,
	"gt":    true,
	"gte":   true,
	"eq":    true,
}

// Error messages for clients
const (
	ErrClientCannotProcessRequest          = "failed to process your request"
	ErrClientSomethingWrongWithApplication = "there is something wrong with the application"
	ErrClientServerLongRespond             = "the app taking too long to respond"
	ErrClientUpstreamUnavailable           = "an upstream system is unavailable, please retry later"
)

// Error messages for developers
const (
	ErrDevInvalidInput           = "invalid input"
	ErrDevValidationFailed       = "validation failed"
	ErrDevCannotParseJSON        = "cannot parse JSON into struct or other data types"
	ErrDevCannotMarshalJSON      = "cannot convert struct or other data types to JSON"
	ErrDevCreateHTTPRequest      = "failed to create HTTP request"
	ErrDevSendHTTPRequest        = "failed to send HTTP request"
	ErrDevServerDeadlineExceeded = "server deadline exceeded"
	ErrDevReadBody               = "failed to read request body"

	// Collaborator messages
	ErrDevCollaboratorUnexpectedStatus = "`%s` responded with unexpected status %d"
	ErrDevCollaboratorBreakerOpen      = "circuit breaker for `%s` is open"
	ErrDevCollaboratorRateLimited      = "rate limiter for `%s` rejected the call"
	ErrDevDecodeResponse               = "failed to decode %s response from `%s`"

	// FHIR messages
	ErrDevSaveFHIRBundle           = "failed to save FHIR bundle into the shared health record"
	ErrDevSearchFHIRResource       = "failed to search FHIR %s from the shared health record"
	ErrDevNoDataFHIRResource       = "no data found from FHIR %s"
	ErrDevBundleWithoutTask        = "bundle must contain exactly one Task entry, found %d"
	ErrDevResourceNotInBundle      = "bundle does not contain a %s entry"
	ErrDevTaskStatusRegression     = "task status cannot move from %s to %s"
	ErrDevUnknownTaskStatus        = "unknown task status %q"
	ErrDevPatientIdentityMissing   = "patient has none of the national id, birth certificate or passport identifiers"
	ErrDevLabOrderNotMatched       = "no %s task matched the patient %s"
	ErrDevLabOrderIdentifierAbsent = "result does not carry a lab order identifier"

	// Translator and terminology messages
	ErrDevTranslateFHIRToHL7 = "failed to translate FHIR bundle into HL7 %s"
	ErrDevTranslateHL7ToFHIR = "failed to translate HL7 message into a FHIR bundle"
	ErrDevTerminologyLookup  = "failed to look up concept mappings for %s|%s"
	ErrDevIdentityUpsert     = "failed to upsert patient into the identity registry"

	// Broker messages
	ErrDevBrokerConnect       = "failed to connect to %s broker"
	ErrDevBrokerPublish       = "failed to publish message on topic %s"
	ErrDevBrokerTransaction   = "broker transaction %s failed"
	ErrDevBrokerConsume       = "failed to fetch messages for consumer group %s"
	ErrDevBrokerCommit        = "failed to commit batch for consumer group %s"
	ErrDevEnvelopeDecode      = "cannot decode envelope on topic %s"
	ErrDevEnvelopeUnknownKind = "unknown envelope kind %q"
	ErrDevDeadLetterPublish   = "failed to publish dead-letter record for topic %s"
	ErrDevRetryExhausted      = "operation on %s failed after %d attempts"
	ErrDevStepNotRegistered   = "no saga step registered for topic %s"

	// MLLP messages
	ErrDevMLLPDial           = "failed to dial MLLP endpoint %s"
	ErrDevMLLPWrite          = "failed to write MLLP frame to %s"
	ErrDevMLLPRead           = "failed to read MLLP acknowledgment from %s"
	ErrDevHL7Parse           = "failed to parse HL7 message"
	ErrDevHL7UnsupportedType = "unsupported HL7 message type %s"
	ErrDevHL7AckNotAccepted  = "IPMS did not accept %s message %s"

	// Redis messages
	ErrDevRedisSetData    = "failed to set data to redis"
	ErrDevRedisDeleteData = "failed to delete data from redis"
	ErrDevRedisGetNoData  = "no data found in redis with key %s"
	ErrDevRedisUnlock     = "failed to release redis lock"
	ErrDevLockNotAcquired = "could not acquire lock %s"

	// Mongo and Minio messages
	ErrDevMongoInsertDocument       = "failed to insert document into mongo collection %s"
	ErrDevMinioFailedToCreateObject = "failed to create object into minio storage with bucket name '%s'"

	// Config messages
	ErrDevFacilityMappingLoad = "failed to load facility mapping table from %s"
)
