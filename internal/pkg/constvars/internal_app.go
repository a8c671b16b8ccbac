package constvars

type ContextKey string

const (
	CONTEXT_REQUEST_ID_KEY           ContextKey = "request_id"
	CONTEXT_IS_CLIENT_REQUEST_ID_KEY ContextKey = "is_client_request_id"
)

const (
	AppEnvDevelopment = "development"
	AppEnvProduction  = "production"
)

const (
	BrokerDriverKafka    = "kafka"
	BrokerDriverRabbitMQ = "rabbitmq"
)

const (
	ResponseUnknown = "unknown"
)

const (
	LabOrderAcceptedMessage = "lab order accepted for processing"
	HL7MessageQueuedMessage = "hl7 message queued for processing"
	HealthyMessage          = "mediator is healthy"
	UnhealthyMessage        = "mediator dependencies are unavailable"
)

const (
	RedisKeyOrderLockFormat = "mediator:order:%s:lock"
)

const (
	MongoCollectionSagaJournal = "saga_journal"
)

const (
	ArchiveObjectKeyFormat = "hl7/%s/%s/%s.json"
)
