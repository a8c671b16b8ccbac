package identity

import (
	"context"
	"errors"
	"testing"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/services/shared/retry"
	"ipms-mediator/internal/pkg/dto/messaging"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/fhir_dto"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	nationalID = "http://example.org/national-id"
	birthCert  = "http://example.org/birth-certificate"
	passport   = "http://example.org/passport"
)

var identityConfig = config.Identity{
	NationalIDSystem:       nationalID,
	BirthCertificateSystem: birthCert,
	PassportSystem:         passport,
}

type fakeRegistry struct {
	failures int
	calls    int
	keys     []workflow.IdentityKey
}

func (f *fakeRegistry) UpsertPatient(ctx context.Context, patient json.RawMessage, key workflow.IdentityKey) error {
	f.calls++
	f.keys = append(f.keys, key)
	if f.failures < 0 || f.calls <= f.failures {
		return errors.New("registry unavailable")
	}
	return nil
}

type recordingSink struct {
	records []messaging.DeadLetterRecord
}

func (s *recordingSink) SendDeadLetter(ctx context.Context, record messaging.DeadLetterRecord) error {
	s.records = append(s.records, record)
	return nil
}

func newReconciler(registry *fakeRegistry, sink *recordingSink) *IdentityReconciler {
	return NewIdentityReconciler(registry, identityConfig, config.Retry{MaxAttempts: 3}, sink, zap.NewNop())
}

func TestResolveKeyPriority(t *testing.T) {
	reconciler := newReconciler(&fakeRegistry{}, nil)

	t.Run("National ID Beats Passport", func(t *testing.T) {
		key, err := reconciler.ResolveKey(fhir_dto.Patient{Identifier: []fhir_dto.Identifier{
			{System: passport, Value: "P-1"},
			{System: nationalID, Value: "N-1"},
		}})
		require.NoError(t, err)
		assert.Equal(t, workflow.IdentityKey{System: nationalID, Value: "N-1"}, key)
	})

	t.Run("Birth Certificate Beats Passport", func(t *testing.T) {
		key, err := reconciler.ResolveKey(fhir_dto.Patient{Identifier: []fhir_dto.Identifier{
			{System: passport, Value: "P-1"},
			{System: birthCert, Value: "B-1"},
		}})
		require.NoError(t, err)
		assert.Equal(t, birthCert, key.System)
	})

	t.Run("None Present", func(t *testing.T) {
		_, err := reconciler.ResolveKey(fhir_dto.Patient{Identifier: []fhir_dto.Identifier{{System: "http://example.org/mrn", Value: "M-1"}}})
		assert.ErrorIs(t, err, ErrNoIdentityKey)
	})
}

func TestReconcile(t *testing.T) {
	patientBundle := &fhir_dto.FHIRBundle{Entry: []fhir_dto.Entry{
		{Resource: json.RawMessage(`{"resourceType":"Patient","id":"p1","identifier":[{"system":"` + nationalID + `","value":"N-1"}]}`)},
	}}

	t.Run("Returns Bundle Unchanged", func(t *testing.T) {
		registry := &fakeRegistry{failures: 1}
		reconciler := newReconciler(registry, &recordingSink{})

		result, err := reconciler.Reconcile(context.Background(), patientBundle, "save-pims-patient")
		require.NoError(t, err)
		assert.Same(t, patientBundle, result)
		assert.Equal(t, 2, registry.calls)
		assert.Equal(t, "N-1", registry.keys[0].Value)
	})

	t.Run("Dead Letters After Retry Budget", func(t *testing.T) {
		sink := &recordingSink{}
		registry := &fakeRegistry{failures: -1}
		reconciler := newReconciler(registry, sink)
		// InitialDelay is zero so the retries do not sleep.

		_, err := reconciler.Reconcile(context.Background(), patientBundle, "save-pims-patient")
		assert.True(t, retry.IsTerminal(err))
		assert.Equal(t, 3, registry.calls)
		require.Len(t, sink.records, 1)
		assert.Equal(t, "save-pims-patient", sink.records[0].Topic)
	})

	t.Run("Missing Patient", func(t *testing.T) {
		_, err := newReconciler(&fakeRegistry{}, nil).Reconcile(context.Background(), &fhir_dto.FHIRBundle{}, "save-pims-patient")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoIdentityKey)
	})
}
