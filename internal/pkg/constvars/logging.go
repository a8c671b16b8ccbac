package constvars

const (
	LoggingRequestIDKey      = "request_id"
	LoggingDataKey           = "data"
	LoggingResponseLengthKey = "response_length"
	LoggingOperationKey      = "operation"
	LoggingDurationKey       = "duration"
	LoggingSuccessKey        = "success"
	LoggingErrorCodeKey      = "error_code"

	LoggingMethodKey     = "method"
	LoggingEndpointKey   = "endpoint"
	LoggingStatusCodeKey = "status_code"
	LoggingRemoteAddrKey = "remote_addr"

	LoggingRedisKey              = "redis_key"
	LoggingLockValueKey          = "lock_value"
	LoggingLockExpectedValueKey  = "lock_expected_value"
	LoggingLockExpirationTimeKey = "lock_expiration"
	LoggingBucketKey             = "bucket"
	LoggingObjectKey             = "object"
	LoggingCollaboratorKey       = "collaborator"
	LoggingBreakerStateFromKey   = "breaker_from"
	LoggingBreakerStateToKey     = "breaker_to"
	LoggingTaskIDKey             = "task_id"
	LoggingBundleIDKey           = "bundle_id"
	LoggingPatientIdentifierKey  = "patient_identifier"
	LoggingTopicKey              = "topic"
	LoggingPartitionKey          = "partition"
	LoggingOffsetKey             = "offset"
	LoggingBatchSizeKey          = "batch_size"
	LoggingConsumerGroupKey      = "consumer_group"
	LoggingAttemptKey            = "attempt"
	LoggingMaxAttemptsKey        = "max_attempts"
	LoggingRetriesRemainingKey   = "retries_remaining"
	LoggingTargetHostKey         = "target_host"
	LoggingTargetPortKey         = "target_port"
	LoggingControlIDKey          = "control_id"
	LoggingMessageTypeKey        = "message_type"
	LoggingTaskStatusKey         = "task_status"
	LoggingTaskStatusFromKey     = "task_status_from"
	LoggingTaskStatusToKey       = "task_status_to"
	LoggingStoredOrderKey        = "stored_order"
	LoggingCandidateCountKey     = "candidate_count"
	LoggingFacilityCodeKey       = "facility_code"
	LoggingFacilityNameKey       = "facility_name"
	LoggingCodingSystemKey       = "coding_system"
	LoggingCodingCodeKey         = "coding_code"
	LoggingLabOrderIdentifierKey = "lab_order_identifier"
	LoggingEnvelopeKindKey       = "envelope_kind"
	LoggingTranslatorTemplateKey = "translator_template"
	LoggingBrokerDriverKey       = "broker_driver"
	LoggingListenAddressKey      = "listen_address"
	LoggingRestartDelayKey       = "restart_delay"
	LoggingMappingFileKey        = "mapping_file"
)
