package config

import (
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/utils"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

func init() {
	godotenv.Load()
}

func NewDriverConfig() *DriverConfig {
	return &DriverConfig{
		MongoDB: MongoDB{
			Port:     utils.GetEnvString("MONGODB_PORT", "27017"),
			Host:     utils.GetEnvString("MONGODB_HOST", "localhost"),
			DbName:   utils.GetEnvString("MONGODB_DB_NAME", "mediator"),
			Username: utils.GetEnvString("MONGODB_USERNAME", ""),
			Password: utils.GetEnvString("MONGODB_PASSWORD", ""),
		},
		Redis: Redis{
			Host:     utils.GetEnvString("REDIS_HOST", "localhost"),
			Port:     utils.GetEnvString("REDIS_PORT", "6379"),
			Password: utils.GetEnvString("REDIS_PASSWORD", ""),
		},
		Logger: Logger{
			Level:               utils.GetEnvString("LOGGER_LEVEL", "debug"),
			OutputFileName:      utils.GetEnvString("LOGGER_OUTPUT_FILENAME", "logger.log"),
			OutputErrorFileName: utils.GetEnvString("LOGGER_OUTPUT_ERROR_FILENAME", "logger_error.log"),
		},
		Kafka: Kafka{
			Brokers:          utils.GetEnvString("KAFKA_BROKERS", "localhost:9092"),
			ClientID:         utils.GetEnvString("KAFKA_CLIENT_ID", "ipms-mediator"),
			TransactionalID:  utils.GetEnvString("KAFKA_TRANSACTIONAL_ID", ""),
			SecurityProtocol: utils.GetEnvString("KAFKA_SECURITY_PROTOCOL", "plaintext"),
			SaslMechanism:    utils.GetEnvString("KAFKA_SASL_MECHANISM", ""),
			Username:         utils.GetEnvString("KAFKA_USERNAME", ""),
			Password:         utils.GetEnvString("KAFKA_PASSWORD", ""),
		},
		RabbitMQ: RabbitMQ{
			Port:     utils.GetEnvString("RABBITMQ_PORT", "5672"),
			Host:     utils.GetEnvString("RABBITMQ_HOST", "localhost"),
			Username: utils.GetEnvString("RABBITMQ_USERNAME", "guest"),
			Password: utils.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Exchange: utils.GetEnvString("RABBITMQ_EXCHANGE", "mediator.workflow"),
		},
		Minio: Minio{
			Port:       utils.GetEnvString("MINIO_PORT", "9000"),
			Host:       utils.GetEnvString("MINIO_HOST", "localhost"),
			Username:   utils.GetEnvString("MINIO_USERNAME", ""),
			Password:   utils.GetEnvString("MINIO_PASSWORD", ""),
			BucketName: utils.GetEnvString("MINIO_BUCKET_NAME", "hl7-archive"),
			UseSSL:     utils.GetEnvBool("MINIO_USE_SSL", false),
		},
	}
}

func NewInternalConfig() *InternalConfig {
	return &InternalConfig{
		App: App{
			Env:                        utils.GetEnvString("APP_ENV", constvars.AppEnvDevelopment),
			Port:                       utils.GetEnvString("APP_PORT", "3000"),
			Version:                    utils.GetEnvString("APP_VERSION", "v1"),
			EndpointPrefix:             utils.GetEnvString("APP_ENDPOINT_PREFIX", "api"),
			ShutdownTimeout:            utils.GetEnvInt("APP_SHUTDOWN_TIMEOUT", 10),
			MaxRequests:                utils.GetEnvInt("APP_MAX_REQUEST", 100),
			MaxTimeRequestsPerSeconds:  utils.GetEnvInt("APP_MAX_TIME_REQUESTS_PER_SECONDS", 60),
			RequestBodyLimitInMegabyte: utils.GetEnvInt("APP_REQUEST_BODY_LIMIT_IN_MEGABYTE", 6),
		},
		Broker: Broker{
			Driver:              utils.GetEnvString("BROKER_DRIVER", constvars.BrokerDriverKafka),
			ConsumerGroup:       utils.GetEnvString("BROKER_CONSUMER_GROUP", "ipms-mediator"),
			BatchSize:           utils.GetEnvInt("BROKER_BATCH_SIZE", 20),
			PollTimeout:         utils.GetEnvDuration("BROKER_POLL_TIMEOUT", time.Second),
			ConsumerRestartWait: utils.GetEnvDuration("BROKER_CONSUMER_RESTART_WAIT", 5*time.Second),
		},
		Retry: Retry{
			MaxAttempts:     utils.GetEnvInt("RETRY_MAX_ATTEMPTS", 5),
			InitialDelay:    utils.GetEnvDuration("RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:        utils.GetEnvDuration("RETRY_MAX_DELAY", time.Minute),
			HL7Retries:      utils.GetEnvInt("RETRY_HL7_RETRIES", 3),
			HL7RetryDelay:   utils.GetEnvDuration("RETRY_HL7_DELAY", 2*time.Second),
			DeadLetterTopic: utils.GetEnvString("RETRY_DEAD_LETTER_TOPIC", constvars.TopicDeadLetter),
		},
		Lock: Lock{
			TTL:        utils.GetEnvDuration("LOCK_TTL", 2*time.Minute),
			Attempts:   utils.GetEnvInt("LOCK_ATTEMPTS", 10),
			RetryDelay: utils.GetEnvDuration("LOCK_RETRY_DELAY", 500*time.Millisecond),
		},
		IPMS: IPMS{
			Host:           utils.GetEnvString("IPMS_HOST", "localhost"),
			Port:           utils.GetEnvInt("IPMS_PORT", 2575),
			DialTimeout:    utils.GetEnvDuration("IPMS_DIAL_TIMEOUT", 10*time.Second),
			AckTimeout:     utils.GetEnvDuration("IPMS_ACK_TIMEOUT", 30*time.Second),
			ListenAddress:  utils.GetEnvString("IPMS_LISTEN_ADDRESS", ":2576"),
			SendingApp:     utils.GetEnvString("IPMS_SENDING_APP", "MEDIATOR"),
			SendingFac:     utils.GetEnvString("IPMS_SENDING_FACILITY", "SHR"),
			ADTTemplate:    utils.GetEnvString("IPMS_ADT_TEMPLATE", "ADT_A04"),
			ORMTemplate:    utils.GetEnvString("IPMS_ORM_TEMPLATE", "ORM_O01"),
			ArchiveEnabled: utils.GetEnvBool("IPMS_ARCHIVE_ENABLED", true),
		},
		SHR:              newCollaborator("SHR", "http://localhost:8080/fhir"),
		Translator:       newCollaborator("TRANSLATOR", "http://localhost:3002"),
		IdentityRegistry: newCollaborator("IDENTITY_REGISTRY", "http://localhost:3003/fhir"),
		Terminology: Terminology{
			Collaborator:    newCollaborator("TERMINOLOGY", "http://localhost:8081/fhir"),
			HierarchySystem: utils.GetEnvString("TERMINOLOGY_HIERARCHY_SYSTEM", "http://openclientregistry.org/fhir/CodeSystem/nlims-test-codes"),
			SecondarySystem: utils.GetEnvString("TERMINOLOGY_SECONDARY_SYSTEM", "http://openclientregistry.org/fhir/CodeSystem/ipms-test-codes"),
			LoincSystem:     utils.GetEnvString("TERMINOLOGY_LOINC_SYSTEM", "http://loinc.org"),
		},
		Identity: Identity{
			NationalIDSystem:       utils.GetEnvString("IDENTITY_NATIONAL_ID_SYSTEM", "http://openclientregistry.org/fhir/national-id"),
			BirthCertificateSystem: utils.GetEnvString("IDENTITY_BIRTH_CERTIFICATE_SYSTEM", "http://openclientregistry.org/fhir/birth-certificate"),
			PassportSystem:         utils.GetEnvString("IDENTITY_PASSPORT_SYSTEM", "http://openclientregistry.org/fhir/passport"),
			LabOrderSystem:         utils.GetEnvString("IDENTITY_LAB_ORDER_SYSTEM", "http://openclientregistry.org/fhir/lab-order-id"),
		},
		Facility: Facility{
			MappingFile:   utils.GetEnvString("FACILITY_MAPPING_FILE", "facility-mapping.csv"),
			CodeSystem:    utils.GetEnvString("FACILITY_CODE_SYSTEM", "http://openclientregistry.org/fhir/facility-code"),
			NamespaceUUID: utils.GetEnvString("FACILITY_NAMESPACE_UUID", "6ba7b811-9dad-11d1-80b4-00c04fd430c8"),
		},
	}
}

func newCollaborator(prefix, defaultUrl string) Collaborator {
	return Collaborator{
		BaseUrl:           utils.GetEnvString(prefix+"_BASE_URL", defaultUrl),
		Username:          utils.GetEnvString(prefix+"_USERNAME", ""),
		Password:          utils.GetEnvString(prefix+"_PASSWORD", ""),
		Timeout:           utils.GetEnvDuration(prefix+"_TIMEOUT", 30*time.Second),
		RequestsPerSecond: utils.GetEnvFloat(prefix+"_REQUESTS_PER_SECOND", 20),
		Burst:             utils.GetEnvInt(prefix+"_BURST", 10),
		BreakerFailures:   utils.GetEnvInt(prefix+"_BREAKER_FAILURES", 5),
		BreakerOpenFor:    utils.GetEnvDuration(prefix+"_BREAKER_OPEN_FOR", 30*time.Second),
	}
}

// Validate fails fast on a configuration the workflow cannot run with.
func (c *InternalConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return exceptions.ErrInputValidation(err)
	}
	return nil
}
