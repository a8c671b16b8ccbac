package contracts

import "context"

type HL7Sender interface {
	// Send returns the raw acknowledgment. retries is the number of attempts
	// made after the first one fails.
	Send(ctx context.Context, message, targetHost string, targetPort, retries int) (string, error)
}
