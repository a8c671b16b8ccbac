package messaging

import (
	"ipms-mediator/internal/app/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// NewKafkaProducerConfig returns the settings of the transactional producer.
// transactional.id must be exclusive to one process at a time.
func NewKafkaProducerConfig(driverConfig *config.DriverConfig, transactionalID string) *kafka.ConfigMap {
	configMap := baseKafkaConfig(driverConfig)
	configMap.SetKey("enable.idempotence", true)
	configMap.SetKey("acks", "all")
	configMap.SetKey("transactional.id", transactionalID)
	return configMap
}

// NewKafkaConsumerConfig returns settings for a group consumer that commits
// offsets by hand and only sees committed transactions.
func NewKafkaConsumerConfig(driverConfig *config.DriverConfig, groupID string) *kafka.ConfigMap {
	configMap := baseKafkaConfig(driverConfig)
	configMap.SetKey("group.id", groupID)
	configMap.SetKey("enable.auto.commit", false)
	configMap.SetKey("enable.auto.offset.store", false)
	configMap.SetKey("auto.offset.reset", "earliest")
	configMap.SetKey("isolation.level", "read_committed")
	return configMap
}

func baseKafkaConfig(driverConfig *config.DriverConfig) *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": driverConfig.Kafka.Brokers,
		"client.id":         driverConfig.Kafka.ClientID,
		"security.protocol": driverConfig.Kafka.SecurityProtocol,
	}
	if driverConfig.Kafka.SaslMechanism != "" {
		configMap.SetKey("sasl.mechanisms", driverConfig.Kafka.SaslMechanism)
		configMap.SetKey("sasl.username", driverConfig.Kafka.Username)
		configMap.SetKey("sasl.password", driverConfig.Kafka.Password)
	}
	return configMap
}
