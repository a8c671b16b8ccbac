package messaging

import (
	"fmt"
	"net/url"
	"time"

	"ipms-mediator/internal/app/config"

	"github.com/rabbitmq/amqp091-go"
)

const rabbitMQHeartbeat = 10 * time.Second

// NewRabbitMQ dials the broker used when BROKER_DRIVER is rabbitmq. The
// connection is named after the Kafka client id so both drivers show up
// under the same identity in broker tooling.
func NewRabbitMQ(driverConfig *config.DriverConfig) (*amqp091.Connection, error) {
	brokerURL := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(driverConfig.RabbitMQ.Username, driverConfig.RabbitMQ.Password),
		Host:   fmt.Sprintf("%s:%s", driverConfig.RabbitMQ.Host, driverConfig.RabbitMQ.Port),
		Path:   "/",
	}

	properties := amqp091.NewConnectionProperties()
	properties.SetClientConnectionName(driverConfig.Kafka.ClientID)

	return amqp091.DialConfig(brokerURL.String(), amqp091.Config{
		Heartbeat:  rabbitMQHeartbeat,
		Locale:     "en_US",
		Properties: properties,
	})
}
