package config

import "time"

type (
	DriverConfig struct {
		MongoDB  MongoDB
		Redis    Redis
		Logger   Logger
		Kafka    Kafka
		RabbitMQ RabbitMQ
		Minio    Minio
	}

	MongoDB struct {
		Port     string
		Host     string
		Username string
		Password string
		DbName   string
	}
	Redis struct {
		Host     string
		Port     string
		Password string
	}
	Logger struct {
		Level               string
		OutputFileName      string
		OutputErrorFileName string
	}
	Kafka struct {
		Brokers          string
		ClientID         string
		TransactionalID  string
		SecurityProtocol string
		SaslMechanism    string
		Username         string
		Password         string
	}
	RabbitMQ struct {
		Port     string
		Host     string
		Username string
		Password string
		Exchange string
	}
	Minio struct {
		Port       string
		Host       string
		Username   string
		Password   string
		BucketName string
		UseSSL     bool
	}
)

type (
	InternalConfig struct {
		App              App
		Broker           Broker
		Retry            Retry
		Lock             Lock
		IPMS             IPMS
		SHR              Collaborator
		Terminology      Terminology
		Translator       Collaborator
		IdentityRegistry Collaborator
		Identity         Identity
		Facility         Facility
	}

	App struct {
		Env                        string `validate:"required,oneof=development production"`
		Port                       string `validate:"required"`
		Version                    string
		EndpointPrefix             string
		ShutdownTimeout            int `validate:"gt=0"`
		MaxRequests                int `validate:"gt=0"`
		MaxTimeRequestsPerSeconds  int `validate:"gt=0"`
		RequestBodyLimitInMegabyte int `validate:"gt=0"`
	}

	// Broker selects the transport behind the message channel.
	Broker struct {
		Driver              string `validate:"required,oneof=kafka rabbitmq"`
		ConsumerGroup       string `validate:"required"`
		BatchSize           int    `validate:"gt=0"`
		PollTimeout         time.Duration
		ConsumerRestartWait time.Duration
	}

	// Retry is the single place retry budgets and delays are configured.
	Retry struct {
		MaxAttempts     int `validate:"gt=0"`
		InitialDelay    time.Duration
		MaxDelay        time.Duration
		HL7Retries      int `validate:"gte=0"`
		HL7RetryDelay   time.Duration
		DeadLetterTopic string `validate:"required"`
	}

	Lock struct {
		TTL        time.Duration `validate:"gt=0"`
		Attempts   int           `validate:"gt=0"`
		RetryDelay time.Duration
	}

	IPMS struct {
		Host           string `validate:"required"`
		Port           int    `validate:"gt=0"`
		DialTimeout    time.Duration
		AckTimeout     time.Duration
		ListenAddress  string
		SendingApp     string
		SendingFac     string
		ADTTemplate    string
		ORMTemplate    string
		ArchiveEnabled bool
	}

	Collaborator struct {
		BaseUrl           string `validate:"required,url"`
		Username          string
		Password          string
		Timeout           time.Duration
		RequestsPerSecond float64
		Burst             int
		BreakerFailures   int
		BreakerOpenFor    time.Duration
	}

	Terminology struct {
		Collaborator
		HierarchySystem string
		SecondarySystem string
		LoincSystem     string
	}

	// Identity holds the identifier systems tried, in priority order, when
	// resolving a patient across systems.
	Identity struct {
		NationalIDSystem       string `validate:"required"`
		BirthCertificateSystem string `validate:"required"`
		PassportSystem         string `validate:"required"`
		LabOrderSystem         string `validate:"required"`
	}

	Facility struct {
		MappingFile   string
		CodeSystem    string
		NamespaceUUID string `validate:"omitempty,uuid"`
	}
)
