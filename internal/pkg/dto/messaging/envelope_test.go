package messaging

import (
	"errors"
	"testing"

	"ipms-mediator/internal/pkg/fhir_dto"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeEncodeDecode(t *testing.T) {
	bundle := &fhir_dto.FHIRBundle{
		ResourceType: "Bundle",
		Type:         "transaction",
		Entry: []fhir_dto.Entry{
			{Resource: json.RawMessage(`{"resourceType":"Task","id":"t1","status":"requested"}`)},
		},
	}

	t.Run("Bundle Kind", func(t *testing.T) {
		data, err := NewBundleEnvelope("send-adt-to-ipms", bundle).Encode()
		require.NoError(t, err)

		decoded, err := Decode(data, "ignored")
		require.NoError(t, err)
		assert.Equal(t, KindBundle, decoded.Kind)
		assert.Equal(t, "send-adt-to-ipms", decoded.Topic)
		require.NotNil(t, decoded.Bundle)
		assert.Equal(t, "Task", decoded.Bundle.Entry[0].Header().ResourceType)
	})

	t.Run("Message Kind", func(t *testing.T) {
		data, err := NewMessageEnvelope("handle-adt-from-ipms", "MSH|^~\\&|IPMS").Encode()
		require.NoError(t, err)

		decoded, err := Decode(data, "")
		require.NoError(t, err)
		assert.Equal(t, KindMessage, decoded.Kind)
		assert.Equal(t, "MSH|^~\\&|IPMS", decoded.Message)
	})

	t.Run("Bundle Kind Without Bundle", func(t *testing.T) {
		_, err := Envelope{Topic: "x", Kind: KindBundle}.Encode()
		assert.True(t, errors.Is(err, ErrEmptyPayload))
	})
}

func TestDecodeLegacyShapes(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind Kind
	}{
		{"Wrapped Bundle", `{"bundle":{"resourceType":"Bundle","entry":[]}}`, KindBundle},
		{"Wrapped Message", `{"message":"MSH|..."}`, KindMessage},
		{"Bare Bundle", `{"resourceType":"Bundle","entry":[]}`, KindBundle},
		{"Bare Patient", `{"resourceType":"Patient","id":"p1"}`, KindPatient},
		{"Bare String", `"MSH|..."`, KindMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := Decode([]byte(tt.data), "save-pims-patient")
			require.NoError(t, err)
			assert.Equal(t, tt.kind, decoded.Kind)
			assert.Equal(t, "save-pims-patient", decoded.Topic)
		})
	}

	t.Run("Unrecognised Object", func(t *testing.T) {
		_, err := Decode([]byte(`{"resourceType":"Observation"}`), "dmq")
		assert.Error(t, err)
	})

	t.Run("Unknown Kind", func(t *testing.T) {
		_, err := Decode([]byte(`{"kind":"pdf","payload":"x"}`), "dmq")
		assert.Error(t, err)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := Decode([]byte("  "), "dmq")
		assert.True(t, errors.Is(err, ErrEmptyPayload))
	})
}

func TestNewDeadLetterRecord(t *testing.T) {
	t.Run("JSON Payload Kept Verbatim", func(t *testing.T) {
		record := NewDeadLetterRecord([]byte(`{"a":1}`), "send-adt-to-ipms", errors.New("boom"), 3)

		assert.JSONEq(t, `{"a":1}`, string(record.OriginalPayload))
		assert.Equal(t, "boom", record.LastError)
		assert.Equal(t, 3, record.Attempts)
	})

	t.Run("Raw HL7 Payload Quoted", func(t *testing.T) {
		record := NewDeadLetterRecord([]byte("MSH|^~\\&|"), "send-hl7-to-ipms", nil, 1)

		var text string
		require.NoError(t, json.Unmarshal(record.OriginalPayload, &text))
		assert.Equal(t, "MSH|^~\\&|", text)
		assert.Empty(t, record.LastError)
	})
}
