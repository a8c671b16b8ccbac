package messaging

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"ipms-mediator/internal/pkg/fhir_dto"

	"github.com/goccy/go-json"
)

// Kind discriminates the payload carried by an Envelope.
type Kind string

const (
	KindBundle  Kind = "bundle"
	KindMessage Kind = "message"
	KindPatient Kind = "patient"
)

var ErrEmptyPayload = errors.New("envelope payload is empty")

// Envelope is the unit placed on every workflow topic. Exactly one of Bundle,
// Message or Patient is set, as named by Kind.
type Envelope struct {
	Topic   string
	Kind    Kind
	Bundle  *fhir_dto.FHIRBundle
	Message string
	Patient json.RawMessage
}

type wireEnvelope struct {
	Topic   string          `json:"topic"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func NewBundleEnvelope(topic string, bundle *fhir_dto.FHIRBundle) Envelope {
	return Envelope{Topic: topic, Kind: KindBundle, Bundle: bundle}
}

func NewMessageEnvelope(topic, message string) Envelope {
	return Envelope{Topic: topic, Kind: KindMessage, Message: message}
}

func NewPatientEnvelope(topic string, patient json.RawMessage) Envelope {
	return Envelope{Topic: topic, Kind: KindPatient, Patient: patient}
}

// WithTopic readdresses the envelope, keeping its payload.
func (e Envelope) WithTopic(topic string) Envelope {
	e.Topic = topic
	return e
}

func (e Envelope) Encode() ([]byte, error) {
	payload, err := e.payload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Topic: e.Topic, Kind: e.Kind, Payload: payload})
}

func (e Envelope) payload() (json.RawMessage, error) {
	switch e.Kind {
	case KindBundle:
		if e.Bundle == nil {
			return nil, ErrEmptyPayload
		}
		return json.Marshal(e.Bundle)
	case KindMessage:
		return json.Marshal(e.Message)
	case KindPatient:
		if len(e.Patient) == 0 {
			return nil, ErrEmptyPayload
		}
		return e.Patient, nil
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
}

// Decode reads an envelope from the wire. Payloads written before the kind
// discriminator existed ({"bundle": ...}, {"message": ...}, a bare FHIR
// resource or a bare string) are classified here, once, so nothing past the
// boundary inspects payload shape. fallbackTopic addresses legacy payloads
// that carry no topic of their own.
func Decode(data []byte, fallbackTopic string) (Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Envelope{}, ErrEmptyPayload
	}

	if data[0] == '"' {
		var message string
		if err := json.Unmarshal(data, &message); err != nil {
			return Envelope{}, err
		}
		return NewMessageEnvelope(fallbackTopic, message), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, err
	}

	topic := fallbackTopic
	if raw, ok := fields["topic"]; ok {
		var explicit string
		if err := json.Unmarshal(raw, &explicit); err == nil && explicit != "" {
			topic = explicit
		}
	}

	if rawKind, ok := fields["kind"]; ok {
		var kind Kind
		if err := json.Unmarshal(rawKind, &kind); err != nil {
			return Envelope{}, err
		}
		return decodePayload(topic, kind, fields["payload"])
	}

	switch {
	case fields["bundle"] != nil:
		return decodePayload(topic, KindBundle, fields["bundle"])
	case fields["message"] != nil:
		return decodePayload(topic, KindMessage, fields["message"])
	case fields["patient"] != nil:
		return decodePayload(topic, KindPatient, fields["patient"])
	}

	var header fhir_dto.ResourceHeader
	if err := json.Unmarshal(data, &header); err == nil {
		switch header.ResourceType {
		case "Bundle":
			return decodePayload(topic, KindBundle, data)
		case "Patient":
			return decodePayload(topic, KindPatient, data)
		}
	}
	return Envelope{}, fmt.Errorf("unrecognised envelope payload on topic %s", topic)
}

func decodePayload(topic string, kind Kind, payload json.RawMessage) (Envelope, error) {
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return Envelope{}, ErrEmptyPayload
	}

	switch kind {
	case KindBundle:
		var bundle fhir_dto.FHIRBundle
		if err := json.Unmarshal(payload, &bundle); err != nil {
			return Envelope{}, err
		}
		return NewBundleEnvelope(topic, &bundle), nil
	case KindMessage:
		var message string
		if err := json.Unmarshal(payload, &message); err != nil {
			return Envelope{}, err
		}
		return NewMessageEnvelope(topic, message), nil
	case KindPatient:
		return NewPatientEnvelope(topic, append(json.RawMessage(nil), payload...)), nil
	default:
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", kind)
	}
}

// DeadLetterRecord is appended to the dead-letter topic once a delivery has
// exhausted its attempt budget. It is never consumed by the workflow itself.
type DeadLetterRecord struct {
	OriginalPayload json.RawMessage `json:"originalPayload"`
	Topic           string          `json:"topic"`
	LastError       string          `json:"lastError"`
	Attempts        int             `json:"attempts"`
	TargetHost      string          `json:"targetHost,omitempty"`
	TargetPort      int             `json:"targetPort,omitempty"`
	FailedAt        time.Time       `json:"failedAt"`
}

// NewDeadLetterRecord captures payload verbatim when it is already JSON and
// as a JSON string otherwise.
func NewDeadLetterRecord(payload []byte, topic string, lastErr error, attempts int) DeadLetterRecord {
	record := DeadLetterRecord{
		Topic:    topic,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
	if lastErr != nil {
		record.LastError = lastErr.Error()
	}
	if json.Valid(payload) {
		record.OriginalPayload = append(json.RawMessage(nil), payload...)
	} else {
		quoted, _ := json.Marshal(string(payload))
		record.OriginalPayload = quoted
	}
	return record
}

func (r DeadLetterRecord) Encode() ([]byte, error) {
	return json.Marshal(r)
}
